package platform

import (
	"encoding/json"
	"strconv"
	"strings"
)

// loginVerdict is the outcome of classifying one login attempt response.
type loginVerdict struct {
	OK     bool
	Reason string
}

var (
	successMarkers = []string{"成功", "success", "欢迎", "dashboard", "index"}
	failureMarkers = []string{"错误", "error", "失败", "用户名", "密码", "验证码"}
)

// classifyLogin decides whether a login response indicates an established
// session. Precedence: JSON envelope, then redirect target, then body
// markers. Anything ambiguous counts as rejected.
func classifyLogin(status int, location string, body []byte) loginVerdict {
	if v, ok := classifyJSON(body); ok {
		return v
	}

	if status == 302 || status == 303 {
		if location != "" && !strings.Contains(strings.ToLower(location), "login") {
			return loginVerdict{OK: true, Reason: "redirect " + location}
		}
		return loginVerdict{OK: false, Reason: "redirected back to login"}
	}

	text := strings.ToLower(string(body))
	for _, m := range successMarkers {
		if strings.Contains(text, m) {
			return loginVerdict{OK: true, Reason: "marker " + m}
		}
	}
	for _, m := range failureMarkers {
		if strings.Contains(text, m) {
			return loginVerdict{OK: false, Reason: "marker " + m}
		}
	}
	return loginVerdict{OK: false, Reason: "unrecognized response"}
}

func classifyJSON(body []byte) (loginVerdict, bool) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return loginVerdict{}, false
	}
	var env struct {
		Code *int   `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.Code == nil {
		return loginVerdict{}, false
	}
	if *env.Code == 1 || strings.Contains(env.Msg, "成功") {
		return loginVerdict{OK: true, Reason: "code " + strconv.Itoa(*env.Code)}, true
	}
	reason := env.Msg
	if reason == "" {
		reason = "code " + strconv.Itoa(*env.Code)
	}
	return loginVerdict{OK: false, Reason: reason}, true
}

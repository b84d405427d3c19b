package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"quizbot/pkg/logx"
)

// ErrUnauthorized means the API key was rejected; retrying is pointless.
var ErrUnauthorized = errors.New("oracle rejected api key")

type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration // per-request; default 20s
	RetryMax   int           // total attempts per Resolve; default 3
	RatePerSec int           // outbound request rate; default 2
}

type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

type Request struct {
	Question    string
	Options     []Option
	CourseName  string
	ChapterName string
}

// Stats are lifetime counters for operator diagnostics.
type Stats struct {
	Requests uint64
	Success  uint64
}

// Client queries the external answer-lookup service.
//
// Resolve returns (answer, true, nil) on a recognized answer, ("", false,
// nil) when the service has no answer, and an error only for failures that
// exhausted the retry budget. The caller owns fail-fast degradation.
type Client struct {
	cfg     Config
	http    *http.Client
	log     logx.Logger
	limiter *rate.Limiter

	// retryBackoff is overridable in tests.
	retryBackoff time.Duration

	requests atomic.Uint64
	success  atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		cfg:          cfg,
		http:         &http.Client{Timeout: cfg.Timeout},
		log:          log,
		limiter:      rate.NewLimiter(rate.Limit(rps), rps),
		retryBackoff: time.Second,
	}
}

func (c *Client) Stats() Stats {
	return Stats{Requests: c.requests.Load(), Success: c.success.Load()}
}

type wireRequest struct {
	QuestionID      string    `json:"questionId"`
	Title           string    `json:"title"`
	IsMultiple      bool      `json:"isMultiple"`
	Options         []Option  `json:"options"`
	VisibilityScore string    `json:"visibilityScore"`
	CourseInfo      *wireInfo `json:"courseInfo"`
}

type wireInfo struct {
	CourseName string `json:"courseName"`
	Chapter    string `json:"chapter"`
	FullText   string `json:"fullText"`
}

func (c *Client) Resolve(ctx context.Context, req Request) (string, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}

		answer, found, err := c.once(ctx, req)
		if err == nil {
			return answer, found, nil
		}
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
			return "", false, err
		}
		lastErr = err
		c.log.Debug("oracle attempt failed",
			logx.Int("attempt", attempt), logx.Int("max", c.cfg.RetryMax), logx.Err(err))
	}
	return "", false, fmt.Errorf("oracle: %w", lastErr)
}

func (c *Client) once(ctx context.Context, req Request) (string, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", false, err
	}

	opts := req.Options
	if opts == nil {
		opts = []Option{}
	}
	wr := wireRequest{
		QuestionID: "q_" + uuid.NewString(),
		Title:      req.Question,
		IsMultiple: false,
		Options:    opts,
	}
	if req.CourseName != "" || req.ChapterName != "" {
		wr.CourseInfo = &wireInfo{CourseName: req.CourseName, Chapter: req.ChapterName}
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return "", false, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)

	c.requests.Add(1)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", false, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, err
	}

	answer, found, err := parseAnswer(raw)
	if err != nil {
		return "", false, err
	}
	if found {
		c.success.Add(1)
	}
	return answer, found, nil
}

// parseAnswer accepts the three response shapes the service is known to use:
//
//	{"success": true, "data": {"correctAnswer": "A"}}
//	{"answer": "A"}
//	{"result": "A"}
//
// Anything else that is valid JSON is "no answer"; invalid JSON is an error
// (counts as a transient failure and is retried).
func parseAnswer(raw []byte) (string, bool, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", false, fmt.Errorf("malformed response: %w", err)
	}

	if d, ok := m["data"]; ok {
		var success bool
		if s, ok := m["success"]; ok {
			_ = json.Unmarshal(s, &success)
		}
		if success {
			var data struct {
				CorrectAnswer string `json:"correctAnswer"`
			}
			if err := json.Unmarshal(d, &data); err == nil && strings.TrimSpace(data.CorrectAnswer) != "" {
				return strings.TrimSpace(data.CorrectAnswer), true, nil
			}
		}
	}

	for _, key := range []string{"answer", "result"} {
		if v, ok := m[key]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true, nil
			}
		}
	}

	return "", false, nil
}

package platform

import "testing"

func TestClassifyLogin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		status   int
		location string
		body     string
		wantOK   bool
	}{
		{
			name:   "json code 1",
			status: 200,
			body:   `{"code":1,"msg":"ok"}`,
			wantOK: true,
		},
		{
			name:   "json success message overrides code",
			status: 200,
			body:   `{"code":0,"msg":"登录成功"}`,
			wantOK: true,
		},
		{
			name:   "json code 0",
			status: 200,
			body:   `{"code":0,"msg":"密码错误"}`,
			wantOK: false,
		},
		{
			name:     "redirect away from login",
			status:   302,
			location: "/index/index/index.html",
			wantOK:   true,
		},
		{
			name:     "redirect back to login",
			status:   302,
			location: "/index/Login/index.html",
			wantOK:   false,
		},
		{
			name:   "redirect without location",
			status: 303,
			wantOK: false,
		},
		{
			name:   "success marker in body",
			status: 200,
			body:   "<html>欢迎回来</html>",
			wantOK: true,
		},
		{
			name:   "english success marker case-insensitive",
			status: 200,
			body:   "<title>Dashboard</title>",
			wantOK: true,
		},
		{
			name:   "failure marker in body",
			status: 200,
			body:   "<p>验证码不正确</p>",
			wantOK: false,
		},
		{
			name:   "ambiguous body counts as rejected",
			status: 200,
			body:   "<html><body>...</body></html>",
			wantOK: false,
		},
		{
			name:   "json takes precedence over markers",
			status: 200,
			body:   `{"code":0,"msg":"dashboard"}`,
			wantOK: false,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := classifyLogin(tc.status, tc.location, []byte(tc.body))
			if v.OK != tc.wantOK {
				t.Fatalf("classifyLogin(%d, %q, %q) = %+v, want OK=%v",
					tc.status, tc.location, tc.body, v, tc.wantOK)
			}
		})
	}
}

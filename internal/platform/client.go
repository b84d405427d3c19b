package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"quizbot/pkg/logx"
)

// ErrAuthFailed means every credential encoding was rejected by the portal.
// Retrying with the same credentials will not help.
var ErrAuthFailed = errors.New("all credential encodings rejected")

const (
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes = 2 << 20
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration // per-request; default 15s
	LoginAttempts int           // establishment passes; default 3
}

// Client is a cookie-session scraper for one portal account. It is not safe
// for concurrent use; each job gets its own instance.
type Client struct {
	base    *url.URL
	http    *http.Client // follows redirects
	post    *http.Client // login probe, redirects surface as 302/303
	log     logx.Logger
	limiter *rate.Limiter

	// sleep and rng are swapped out in tests to kill the pacing delays.
	sleep func(time.Duration)
	rng   *rand.Rand
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid platform base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: cfg.Timeout, Jar: jar},
		post: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		sleep:   time.Sleep,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

type fetched struct {
	Status   int
	FinalURL string
	Body     string
}

func (c *Client) get(ctx context.Context, path string) (*fetched, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &fetched{
		Status:   resp.StatusCode,
		FinalURL: resp.Request.URL.String(),
		Body:     string(body),
	}, nil
}

// resolve joins a path or absolute URL against the portal base.
func (c *Client) resolve(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return c.base.String() + "/" + strings.TrimLeft(path, "/")
	}
	return c.base.ResolveReference(u).String()
}

// IsAuthenticated probes the index page. A session is live when the portal
// serves it without bouncing to the login page.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	f, err := c.get(ctx, "/index/index/index.html")
	if err != nil {
		return false
	}
	return f.Status == http.StatusOK && !strings.Contains(strings.ToLower(f.FinalURL), "login")
}

var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`name="key"[^>]*value="([^"]+)"`),
	regexp.MustCompile(`value="([^"]+)"[^>]*name="key"`),
	regexp.MustCompile(`var\s+key\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`"key"\s*:\s*"([^"]+)"`),
}

// fetchLoginKey scrapes the per-session salt from the login page. When no
// pattern matches, a synthetic key keeps the salted encodings in play.
func (c *Client) fetchLoginKey(ctx context.Context) (string, error) {
	f, err := c.get(ctx, "/index/login/index.html")
	if err != nil {
		return "", err
	}
	for _, re := range keyPatterns {
		if m := re.FindStringSubmatch(f.Body); m != nil {
			return m[1], nil
		}
	}
	return c.generatedKey(), nil
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (c *Client) generatedKey() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = keyAlphabet[c.rng.Intn(len(keyAlphabet))]
	}
	return fmt.Sprintf("%d_%s", time.Now().Unix(), b)
}

// sleepRange pauses a uniformly random duration; the jitter mimics a human
// operator so the portal does not rate-ban the session.
func (c *Client) sleepRange(min, max time.Duration) {
	span := max - min
	if span <= 0 {
		c.sleep(min)
		return
	}
	c.sleep(min + time.Duration(c.rng.Int63n(int64(span))))
}

// Login runs one establishment pass: scrape the page key, then try every
// candidate encoding in order until the portal accepts one. A nil return
// means the cookie jar now carries a live session.
//
// ErrAuthFailed reports a deterministic rejection of the whole table; any
// other error is a transport fault and worth a fresh pass.
func (c *Client) Login(ctx context.Context, username, secret string) error {
	key, err := c.fetchLoginKey(ctx)
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}

	for i, enc := range Encodings(secret, key) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i == 0 {
			c.sleepRange(1*time.Second, 3*time.Second)
		} else {
			c.sleepRange(2*time.Second, 4*time.Second)
		}

		verdict, err := c.tryLogin(ctx, username, enc.Value, key)
		if err != nil {
			return fmt.Errorf("login attempt %s: %w", enc.Name, err)
		}
		if !verdict.OK {
			c.log.Debug("encoding rejected",
				logx.String("encoding", enc.Name), logx.String("reason", verdict.Reason))
			continue
		}
		if c.IsAuthenticated(ctx) {
			c.log.Info("session established", logx.String("encoding", enc.Name))
			return nil
		}
		c.log.Debug("verdict not confirmed by index probe", logx.String("encoding", enc.Name))
	}
	return ErrAuthFailed
}

func (c *Client) tryLogin(ctx context.Context, username, encoded, key string) (loginVerdict, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return loginVerdict{}, err
	}
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", encoded)
	if key != "" {
		form.Set("key", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.resolve("/index/login/check.html"), strings.NewReader(form.Encode()))
	if err != nil {
		return loginVerdict{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.post.Do(req)
	if err != nil {
		return loginVerdict{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return loginVerdict{}, err
	}
	return classifyLogin(resp.StatusCode, resp.Header.Get("Location"), body), nil
}

func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	f, err := c.get(ctx, "/index/exam/index.html")
	if err != nil {
		return nil, err
	}
	if f.Status != http.StatusOK {
		return nil, fmt.Errorf("course index: http %d", f.Status)
	}
	return parseCourses(f.Body), nil
}

func (c *Client) ListChapters(ctx context.Context, courseID int) ([]Chapter, error) {
	f, err := c.get(ctx, fmt.Sprintf("/index/exam/lists/course_id/%d.html", courseID))
	if err != nil {
		return nil, err
	}
	if f.Status != http.StatusOK {
		return nil, fmt.Errorf("chapter list: http %d", f.Status)
	}
	return parseChapters(f.Body), nil
}

// FetchCompletions reads graded scores off the course page, keyed by chapter.
func (c *Client) FetchCompletions(ctx context.Context, courseID int) (map[int]Completion, error) {
	f, err := c.get(ctx, fmt.Sprintf("/index/exam/lists/course_id/%d.html", courseID))
	if err != nil {
		return nil, err
	}
	if f.Status != http.StatusOK {
		return nil, fmt.Errorf("completions: http %d", f.Status)
	}
	return parseCompletions(f.Body), nil
}

func (c *Client) FetchQuestions(ctx context.Context, chapterID int) (*QuestionSet, error) {
	f, err := c.get(ctx, fmt.Sprintf("/index/exam/show/id/%d.html", chapterID))
	if err != nil {
		return nil, err
	}
	if f.Status != http.StatusOK {
		return nil, fmt.Errorf("chapter page: http %d", f.Status)
	}
	action, questions := parseQuestions(f.Body)
	if action == "" {
		action = f.FinalURL
	}
	return &QuestionSet{ChapterID: chapterID, Action: action, Questions: questions}, nil
}

// Submit posts the filled answer form and reports the raw HTTP status; the
// caller decides what counts as acceptance.
func (c *Client) Submit(ctx context.Context, action string, form url.Values) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.resolve(action), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, nil
}

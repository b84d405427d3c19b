package app

import (
	"context"
	"errors"

	"quizbot/internal/commands"
	"quizbot/internal/config"
	"quizbot/internal/pipeline"
	"quizbot/internal/platform"
	"quizbot/pkg/logx"
)

// newClient builds a throwaway platform client from the current config.
func newClient(cfg *config.Config, log logx.Logger) (*platform.Client, error) {
	timeout, err := config.ParseDurationOrDefault("platform.timeout", cfg.Platform.Timeout, 0)
	if err != nil {
		return nil, err
	}
	return platform.New(platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		Timeout: timeout,
	}, log)
}

// login establishes a session on a fresh client: deterministic rejections of
// the whole encoding table fail at once, transport faults consume the
// configured attempt budget.
func login(ctx context.Context, client *platform.Client, creds pipeline.Credentials, attempts int, log logx.Logger) error {
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := client.Login(ctx, creds.Username, creds.Secret)
		if err == nil {
			return nil
		}
		if errors.Is(err, platform.ErrAuthFailed) {
			return err
		}
		lastErr = err
		log.Warn("login pass failed", logx.Int("pass", i), logx.Err(err))
	}
	return lastErr
}

// directory serves the /courses and /chapters listings with a short-lived
// authenticated session per call.
type directory struct {
	cfg *config.Manager
	log logx.Logger
}

var _ commands.Directory = (*directory)(nil)

func (d *directory) session(ctx context.Context, creds pipeline.Credentials) (*platform.Client, error) {
	cfg := d.cfg.Get()
	client, err := newClient(cfg, d.log)
	if err != nil {
		return nil, err
	}
	if err := login(ctx, client, creds, cfg.Platform.LoginAttempts, d.log); err != nil {
		return nil, err
	}
	return client, nil
}

func (d *directory) Courses(ctx context.Context, creds pipeline.Credentials) ([]platform.Course, error) {
	client, err := d.session(ctx, creds)
	if err != nil {
		return nil, err
	}
	return client.ListCourses(ctx)
}

func (d *directory) Chapters(ctx context.Context, creds pipeline.Credentials, courseID int) ([]platform.Chapter, map[int]platform.Completion, error) {
	client, err := d.session(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	chapters, err := client.ListChapters(ctx, courseID)
	if err != nil {
		return nil, nil, err
	}
	completions, err := client.FetchCompletions(ctx, courseID)
	if err != nil {
		return nil, nil, err
	}
	return chapters, completions, nil
}

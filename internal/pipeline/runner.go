package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"quizbot/internal/platform"
	"quizbot/pkg/logx"
)

// ChapterStatus is the terminal state of one chapter within a run.
type ChapterStatus string

const (
	StatusSubmitted    ChapterStatus = "submitted"
	StatusPrepared     ChapterStatus = "prepared" // answers filled, submission disabled
	StatusInsufficient ChapterStatus = "insufficient_answers"
	StatusError        ChapterStatus = "error"
)

const missingSampleMax = 5

// ChapterReport captures what happened to a single chapter.
type ChapterReport struct {
	Chapter    platform.Chapter
	Status     ChapterStatus
	Message    string
	HTTPStatus int

	Total      int
	Answered   int
	FromBank   int
	FromOracle int
	Missing    int
	Invalid    int

	MissingSamples []string
}

// Outcome is the aggregate result of a run, consumed by the scheduler's
// notifier and the admin detail view.
type Outcome struct {
	Success    bool
	Canceled   bool
	StopReason string

	Selected int
	Reports  []ChapterReport

	Succeeded      int
	Failed         int
	SkippedMissing int
	SkippedInvalid int
	SubmitFailed   int
	Examples       []string
}

// Runner executes one automation job against an authenticated portal session.
type Runner struct {
	Client        PlatformClient
	Bank          AnswerBank
	Oracle        AnswerOracle
	Policy        Policy
	LoginAttempts int
	Log           logx.Logger
}

// Run drives the full pipeline: validation, session establishment, chapter
// discovery and selection, then the per-chapter answer/submit loop. It never
// panics outward; everything surfaces in the Outcome.
func (r *Runner) Run(ctx context.Context, target Target, creds Credentials, cancel CancelToken) Outcome {
	log := r.Log
	if cancel == nil {
		cancel = NoCancel{}
	}

	if err := ValidateTarget(target); err != nil {
		return Outcome{StopReason: err.Error()}
	}

	if err := r.establishSession(ctx, creds); err != nil {
		return Outcome{StopReason: "login failed: " + err.Error()}
	}

	courses, err := r.Client.ListCourses(ctx)
	if err != nil {
		return Outcome{StopReason: "course discovery failed: " + err.Error()}
	}
	found := false
	for _, c := range courses {
		if c.ID == target.CourseID {
			found = true
			if c.Name != "" {
				target.CourseName = c.Name
			}
			break
		}
	}
	if !found {
		return Outcome{StopReason: fmt.Sprintf("course %d not found", target.CourseID)}
	}

	chapters, err := r.Client.ListChapters(ctx, target.CourseID)
	if err != nil {
		return Outcome{StopReason: "chapter discovery failed: " + err.Error()}
	}
	if len(chapters) == 0 {
		return Outcome{StopReason: "no chapters found"}
	}
	completions, err := r.Client.FetchCompletions(ctx, target.CourseID)
	if err != nil {
		return Outcome{StopReason: "completion lookup failed: " + err.Error()}
	}

	selected, err := selectChapters(chapters, completions, target)
	if err != nil {
		return Outcome{StopReason: err.Error()}
	}
	if len(selected) == 0 {
		return Outcome{StopReason: "no chapters selected"}
	}

	out := Outcome{Selected: len(selected)}
	res := newResolver(r.Bank, r.Oracle, log)

	for _, ch := range selected {
		if cancel.Canceled() || ctx.Err() != nil {
			out.Canceled = true
			out.StopReason = "task canceled"
			break
		}

		rep := r.runChapter(ctx, res, target, ch)
		out.Reports = append(out.Reports, rep)
		out.SkippedMissing += rep.Missing
		out.SkippedInvalid += rep.Invalid

		switch rep.Status {
		case StatusSubmitted, StatusPrepared:
			out.Succeeded++
		case StatusInsufficient:
			out.Failed++
			if len(out.Examples) < 3 {
				out.Examples = append(out.Examples, fmt.Sprintf("%s: %s", ch.Name, rep.Message))
			}
			if r.Policy.Strict {
				out.StopReason = fmt.Sprintf("%s: %s", ch.Name, rep.Message)
				log.Warn("strict mode stop", logx.String("chapter", ch.Name))
			}
		case StatusError:
			out.Failed++
			if rep.HTTPStatus != 0 && rep.HTTPStatus/100 != 2 {
				out.SubmitFailed++
			}
			if len(out.Examples) < 3 {
				out.Examples = append(out.Examples, fmt.Sprintf("%s: %s", ch.Name, rep.Message))
			}
		}

		if rep.Status == StatusInsufficient && r.Policy.Strict {
			break
		}
	}

	out.Success = !out.Canceled && out.Failed == 0 && out.StopReason == ""
	if !out.Success && !out.Canceled && out.StopReason == "" {
		if len(out.Examples) > 0 {
			out.StopReason = strings.Join(out.Examples, "; ")
		} else {
			out.StopReason = fmt.Sprintf("%d of %d chapters failed", out.Failed, out.Selected)
		}
	}
	return out
}

// establishSession reuses a live session when possible, otherwise runs up to
// LoginAttempts establishment passes. A deterministic rejection of the whole
// encoding table fails immediately; only transport faults consume retries.
func (r *Runner) establishSession(ctx context.Context, creds Credentials) error {
	if r.Client.IsAuthenticated(ctx) {
		return nil
	}

	attempts := r.LoginAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.Client.Login(ctx, creds.Username, creds.Secret)
		if err == nil {
			return nil
		}
		if errors.Is(err, platform.ErrAuthFailed) {
			return err
		}
		lastErr = err
		r.Log.Warn("login pass failed", logx.Int("pass", i), logx.Err(err))
	}
	return lastErr
}

func (r *Runner) runChapter(ctx context.Context, res *resolver, target Target, ch platform.Chapter) ChapterReport {
	rep := ChapterReport{Chapter: ch}

	qs, err := r.Client.FetchQuestions(ctx, ch.ID)
	if err != nil {
		rep.Status = StatusError
		rep.Message = "fetch questions: " + err.Error()
		return rep
	}
	rep.Total = len(qs.Questions)
	if rep.Total == 0 {
		rep.Status = StatusError
		rep.Message = "no questions parsed"
		return rep
	}

	form := url.Values{}
	for _, q := range qs.Questions {
		answer, src := res.resolve(ctx, q, target.CourseName, ch.Name)
		if src == sourceNone {
			rep.Missing++
			if len(rep.MissingSamples) < missingSampleMax {
				rep.MissingSamples = append(rep.MissingSamples, truncate(q.Text, 50))
			}
			continue
		}

		value, ok := matchOption(q.Options, answer)
		if !ok {
			rep.Invalid++
			continue
		}

		switch src {
		case sourceBank:
			rep.FromBank++
		case sourceOracle:
			rep.FromOracle++
		}
		rep.Answered++
		form.Set(q.FieldName, value)
	}

	if r.Policy.Strict && rep.Answered < rep.Total {
		rep.Status = StatusInsufficient
		rep.Message = fmt.Sprintf("strict mode: %d of %d questions unanswered",
			rep.Total-rep.Answered, rep.Total)
		return rep
	}
	coverage := float64(rep.Answered) / float64(rep.Total)
	if coverage < r.Policy.MinAnswerRate {
		rep.Status = StatusInsufficient
		rep.Message = fmt.Sprintf("answer rate %.0f%% below required %.0f%%",
			coverage*100, r.Policy.MinAnswerRate*100)
		return rep
	}

	if !r.Policy.AutoSubmit {
		rep.Status = StatusPrepared
		rep.Message = fmt.Sprintf("%d/%d answers prepared, submission disabled", rep.Answered, rep.Total)
		return rep
	}

	status, err := r.Client.Submit(ctx, qs.Action, form)
	if err != nil {
		rep.Status = StatusError
		rep.Message = "submit: " + err.Error()
		return rep
	}
	rep.HTTPStatus = status
	if status/100 != 2 {
		rep.Status = StatusError
		rep.Message = fmt.Sprintf("submit rejected: http %d", status)
		return rep
	}

	rep.Status = StatusSubmitted
	rep.Message = fmt.Sprintf("%d/%d answered", rep.Answered, rep.Total)
	return rep
}

// matchOption verifies an answer against the chapter's options and returns
// the canonical form value to post. Questions without parsed options accept
// the answer as-is.
func matchOption(options []platform.Option, answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if len(options) == 0 {
		return answer, answer != ""
	}
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o.Value), answer) {
			return o.Value, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

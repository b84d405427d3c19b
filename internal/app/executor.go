package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"quizbot/internal/bank"
	"quizbot/internal/bindings"
	"quizbot/internal/config"
	"quizbot/internal/oracle"
	"quizbot/internal/pipeline"
	"quizbot/internal/scheduler"
	"quizbot/pkg/logx"
)

// executor adapts the automation pipeline to the scheduler. Each job gets a
// fresh platform client (its own cookie session) and reads the policy from
// the live config snapshot, so hot reloads apply to the next job.
type executor struct {
	cfg      *config.Manager
	bindings *bindings.Store
	bank     bank.Store
	oracle   *oracle.Client
	log      logx.Logger
}

var _ scheduler.Executor = (*executor)(nil)

func (e *executor) Execute(ctx context.Context, view scheduler.JobView, cancel *scheduler.CancelFlag) scheduler.Result {
	log := e.log.With(logx.String("job", view.ID), logx.Int64("user", view.UserID))

	creds, err := e.bindings.Get(strconv.FormatInt(view.UserID, 10))
	if err != nil || creds == nil {
		log.Error("credentials unavailable", logx.Err(err))
		return scheduler.Result{Failed: true,
			Text: fmt.Sprintf("Task %s failed: your account binding is missing or unreadable.", view.ID)}
	}

	cfg := e.cfg.Get()
	client, err := newClient(cfg, log)
	if err != nil {
		log.Error("platform client init failed", logx.Err(err))
		return scheduler.Result{Failed: true,
			Text: fmt.Sprintf("Task %s failed: %v", view.ID, err)}
	}

	var orc pipeline.AnswerOracle
	if e.oracle != nil {
		orc = e.oracle
	}
	var store pipeline.AnswerBank
	if e.bank != nil {
		store = e.bank
	}
	runner := &pipeline.Runner{
		Client:        client,
		Bank:          store,
		Oracle:        orc,
		Policy:        policyFromConfig(cfg.Automation),
		LoginAttempts: cfg.Platform.LoginAttempts,
		Log:           log,
	}

	outcome := runner.Run(ctx, pipeline.Target{
		CourseID:   view.CourseID,
		CourseName: view.CourseName,
		Mode:       pipeline.Mode(view.Mode),
		Spec:       view.Spec,
	}, pipeline.Credentials{Username: creds.Username, Secret: creds.Secret}, cancel)

	return scheduler.Result{
		Canceled: outcome.Canceled,
		Failed:   !outcome.Success && !outcome.Canceled,
		Text:     formatOutcome(view, outcome),
	}
}

// policyFromConfig maps the automation config onto a run policy. The config
// validator keeps min_answer_rate inside [0,1]; zero means no coverage floor.
func policyFromConfig(a config.AutomationConfig) pipeline.Policy {
	return pipeline.Policy{
		Strict:        a.StrictMode,
		AutoSubmit:    a.SubmitEnabled(),
		MinAnswerRate: a.MinAnswerRate,
	}
}

// formatOutcome renders the final chat notification for a finished job.
func formatOutcome(view scheduler.JobView, o pipeline.Outcome) string {
	var b strings.Builder
	switch {
	case o.Canceled:
		fmt.Fprintf(&b, "Task %s canceled: %s\n", view.ID, view.Description)
	case o.Success:
		fmt.Fprintf(&b, "Task %s finished: %s\n", view.ID, view.Description)
	default:
		fmt.Fprintf(&b, "Task %s failed: %s\n", view.ID, view.Description)
	}

	for _, rep := range o.Reports {
		fmt.Fprintf(&b, "- %s: %s", rep.Chapter.Name, rep.Status)
		if rep.Message != "" {
			fmt.Fprintf(&b, " (%s)", rep.Message)
		}
		b.WriteString("\n")
		for _, sample := range rep.MissingSamples {
			fmt.Fprintf(&b, "    missing: %s\n", sample)
		}
	}

	if o.Selected > 0 {
		fmt.Fprintf(&b, "Chapters: %d ok, %d failed of %d", o.Succeeded, o.Failed, o.Selected)
		if o.SkippedMissing > 0 || o.SkippedInvalid > 0 {
			fmt.Fprintf(&b, "; questions skipped: %d unanswered, %d invalid", o.SkippedMissing, o.SkippedInvalid)
		}
		b.WriteString("\n")
	}
	if o.StopReason != "" && !o.Canceled {
		fmt.Fprintf(&b, "Stopped: %s\n", o.StopReason)
	}
	return strings.TrimRight(b.String(), "\n")
}

package pipeline

import (
	"context"

	"quizbot/internal/oracle"
	"quizbot/internal/platform"
	"quizbot/pkg/logx"
)

// oracleDisableThreshold is the consecutive-failure count after which the
// oracle is dropped for the rest of the run.
const oracleDisableThreshold = 3

type answerSource int

const (
	sourceNone answerSource = iota
	sourceBank
	sourceOracle
)

// resolver answers questions bank-first, oracle-second, with fail-fast
// degradation: once the oracle errors out three times in a row it is not
// called again for the lifetime of this run. One resolver serves one run.
type resolver struct {
	bank   AnswerBank
	oracle AnswerOracle
	log    logx.Logger

	consecutiveErrs int
	disabled        bool
}

func newResolver(bank AnswerBank, orc AnswerOracle, log logx.Logger) *resolver {
	return &resolver{bank: bank, oracle: orc, log: log}
}

func (r *resolver) resolve(ctx context.Context, q platform.Question, courseName, chapterName string) (string, answerSource) {
	if r.bank != nil {
		answer, ok, err := r.bank.Lookup(ctx, q.Text)
		if err != nil {
			r.log.Warn("bank lookup failed", logx.Err(err))
		} else if ok {
			return answer, sourceBank
		}
	}

	if r.oracle == nil || r.disabled {
		return "", sourceNone
	}

	opts := make([]oracle.Option, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, oracle.Option{Value: o.Value, Text: o.Text})
	}
	answer, found, err := r.oracle.Resolve(ctx, oracle.Request{
		Question:    q.Text,
		Options:     opts,
		CourseName:  courseName,
		ChapterName: chapterName,
	})
	if err != nil {
		r.consecutiveErrs++
		r.log.Warn("oracle call failed",
			logx.Int("consecutive", r.consecutiveErrs), logx.Err(err))
		if r.consecutiveErrs >= oracleDisableThreshold {
			r.disabled = true
			r.log.Warn("oracle disabled for the remainder of this run")
		}
		return "", sourceNone
	}

	r.consecutiveErrs = 0
	if !found {
		return "", sourceNone
	}
	return answer, sourceOracle
}

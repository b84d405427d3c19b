package pipeline

import (
	"context"
	"net/url"

	"quizbot/internal/oracle"
	"quizbot/internal/platform"
)

// PlatformClient is the remote-portal surface the runner drives. The real
// implementation is platform.Client; tests substitute fakes.
type PlatformClient interface {
	IsAuthenticated(ctx context.Context) bool
	Login(ctx context.Context, username, secret string) error
	ListCourses(ctx context.Context) ([]platform.Course, error)
	ListChapters(ctx context.Context, courseID int) ([]platform.Chapter, error)
	FetchCompletions(ctx context.Context, courseID int) (map[int]platform.Completion, error)
	FetchQuestions(ctx context.Context, chapterID int) (*platform.QuestionSet, error)
	Submit(ctx context.Context, action string, form url.Values) (int, error)
}

// AnswerBank is the local lookup consulted before the oracle.
type AnswerBank interface {
	Lookup(ctx context.Context, questionText string) (string, bool, error)
}

// AnswerOracle resolves a question remotely. found=false with a nil error is
// a clean "no answer"; an error marks a degraded call.
type AnswerOracle interface {
	Resolve(ctx context.Context, req oracle.Request) (answer string, found bool, err error)
}

// CancelToken is polled at chapter boundaries for cooperative shutdown.
type CancelToken interface {
	Canceled() bool
}

// NoCancel is a token that never fires, for callers without a scheduler.
type NoCancel struct{}

func (NoCancel) Canceled() bool { return false }

// Policy is the per-run answering and submission policy.
type Policy struct {
	Strict        bool    // refuse to submit any chapter with unanswered questions, stop the run
	AutoSubmit    bool    // false leaves chapters filled in but not posted
	MinAnswerRate float64 // required answered/total coverage in [0,1]; 0 imposes no floor
}

// Credentials is the bound portal identity for a run.
type Credentials struct {
	Username string
	Secret   string
}

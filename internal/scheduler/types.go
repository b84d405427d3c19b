package scheduler

import (
	"errors"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCanceling Status = "canceling"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

var (
	ErrActiveJob = errors.New("an active job already exists for this user")
	ErrQueueFull = errors.New("job queue is full")
	ErrNotFound  = errors.New("job not found")
	ErrNotOwner  = errors.New("job belongs to another user")
	ErrFinished  = errors.New("job already finished")
	ErrStopped   = errors.New("scheduler is stopped")
)

// CancelFlag is the cooperative cancellation token handed to the executor.
// It satisfies pipeline.CancelToken.
type CancelFlag struct {
	flag atomic.Bool
}

func (c *CancelFlag) Cancel()        { c.flag.Store(true) }
func (c *CancelFlag) Canceled() bool { return c.flag.Load() }

// SubmitRequest describes a new job.
type SubmitRequest struct {
	UserID      int64
	UserName    string
	ChatID      int64
	CourseID    int
	CourseName  string
	Mode        string
	Spec        string
	Description string
}

// job is the scheduler-internal record; all mutable fields are guarded by
// the service mutex.
type job struct {
	id   string
	req  SubmitRequest
	flag *CancelFlag

	status     Status
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	result     Result
}

// JobView is an immutable snapshot safe to hand out of the service.
type JobView struct {
	ID          string
	UserID      int64
	UserName    string
	ChatID      int64
	CourseID    int
	CourseName  string
	Mode        string
	Spec        string
	Description string

	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Result     Result
}

// Result is what the executor hands back for a finished job. Text is the
// human-readable summary delivered as the final notification.
type Result struct {
	Canceled bool
	Failed   bool
	Text     string
}

func (j *job) view() JobView {
	return JobView{
		ID:          j.id,
		UserID:      j.req.UserID,
		UserName:    j.req.UserName,
		ChatID:      j.req.ChatID,
		CourseID:    j.req.CourseID,
		CourseName:  j.req.CourseName,
		Mode:        j.req.Mode,
		Spec:        j.req.Spec,
		Description: j.req.Description,
		Status:      j.status,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
		Result:      j.result,
	}
}

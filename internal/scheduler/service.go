package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"quizbot/internal/eventbus"
	"quizbot/pkg/logx"
)

const (
	minWorkers       = 1
	maxWorkers       = 3
	defaultQueueSize = 32
	defaultRetention = 24 * time.Hour
)

// Executor runs one job to completion. Implementations must honor the cancel
// flag at their own checkpoints and must not panic; the worker still recovers
// as a last line of defense.
type Executor interface {
	Execute(ctx context.Context, view JobView, cancel *CancelFlag) Result
}

// NotifyFunc delivers the two lifecycle notifications (start ack, final
// summary) back to the chat the job came from.
type NotifyFunc func(ctx context.Context, chatID int64, text string)

type Config struct {
	Workers   int           // clamped to [1,3]
	QueueSize int           // pending jobs beyond the workers; default 32
	Retention time.Duration // how long finished jobs stay visible; default 24h
}

// Service owns the job registry and the worker pool. One queued-or-running
// job per user; FIFO dispatch; finished jobs linger for Retention.
type Service struct {
	cfg    Config
	exec   Executor
	notify NotifyFunc
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	queue   chan *job
	started bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	cron      *cron.Cron

	now func() time.Time
}

func New(cfg Config, exec Executor, notify NotifyFunc, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Workers < minWorkers {
		cfg.Workers = minWorkers
	}
	if cfg.Workers > maxWorkers {
		cfg.Workers = maxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if notify == nil {
		notify = func(context.Context, int64, string) {}
	}
	return &Service{
		cfg:    cfg,
		exec:   exec,
		notify: notify,
		bus:    bus,
		log:    log,
		jobs:   make(map[string]*job),
		queue:  make(chan *job, cfg.QueueSize),
		now:    time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@hourly", func() {
		n := s.Cleanup(s.now())
		if n > 0 {
			s.log.Debug("retention sweep", logx.Int("purged", n))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.runCancel()
	cronCtx := s.cron.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a job. The single-flight check, registry insert and
// enqueue happen under one lock so no interleaving can slip a second active
// job in for the same user. Returns the job snapshot and its queue position
// (1 = next to run).
func (s *Service) Submit(req SubmitRequest) (JobView, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return JobView{}, 0, ErrStopped
	}
	for _, j := range s.jobs {
		if j.req.UserID == req.UserID && !j.status.Terminal() {
			return JobView{}, 0, ErrActiveJob
		}
	}
	if len(s.queue) == cap(s.queue) {
		return JobView{}, 0, ErrQueueFull
	}

	j := &job{
		id:        uuid.NewString()[:8],
		req:       req,
		flag:      &CancelFlag{},
		status:    StatusQueued,
		createdAt: s.now(),
	}
	s.jobs[j.id] = j
	s.queue <- j
	position := len(s.queue)

	s.publish("scheduler.job.queued", j.view())
	s.log.Info("job queued",
		logx.String("job", j.id), logx.Int64("user", req.UserID), logx.Int("position", position))
	return j.view(), position, nil
}

// Cancel requests cancellation. Queued jobs are finalized immediately and
// the worker later discards them; running jobs transition to canceling and
// stop at the pipeline's next checkpoint.
func (s *Service) Cancel(id string, userID int64, admin bool) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	if !admin && j.req.UserID != userID {
		return "", ErrNotOwner
	}
	if j.status.Terminal() {
		return j.status, ErrFinished
	}

	j.flag.Cancel()
	switch j.status {
	case StatusQueued:
		j.status = StatusCanceled
		j.finishedAt = s.now()
		j.result = Result{Canceled: true, Text: "Task canceled before it started."}
		s.publish("scheduler.job.canceled", j.view())
	case StatusRunning:
		j.status = StatusCanceling
		s.publish("scheduler.job.canceling", j.view())
	}
	return j.status, nil
}

// ActiveJob returns the user's queued-or-running job, if any.
func (s *Service) ActiveJob(userID int64) (JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.req.UserID == userID && !j.status.Terminal() {
			return j.view(), true
		}
	}
	return JobView{}, false
}

// Status lists the user's jobs, newest first.
func (s *Service) Status(userID int64) []JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobView
	for _, j := range s.jobs {
		if j.req.UserID == userID {
			out = append(out, j.view())
		}
	}
	sortViews(out)
	return out
}

// AdminList lists every retained job, newest first.
func (s *Service) AdminList() []JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.view())
	}
	sortViews(out)
	return out
}

func (s *Service) AdminDetail(id string) (JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return j.view(), true
}

func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Cleanup purges terminal jobs whose finish time is older than the retention
// window. Called hourly by cron and opportunistically by the command layer.
func (s *Service) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.cfg.Retention)
	n := 0
	for id, j := range s.jobs {
		if j.status.Terminal() && !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *Service) publish(typ string, view JobView) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: view})
}

func sortViews(views []JobView) {
	sort.Slice(views, func(i, k int) bool {
		return views[i].CreatedAt.After(views[k].CreatedAt)
	})
}

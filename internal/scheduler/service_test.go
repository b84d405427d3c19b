package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizbot/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

// stubExecutor runs jobs through caller-provided hooks so tests can block,
// observe and release them deterministically.
type stubExecutor struct {
	mu      sync.Mutex
	started []string
	run     func(ctx context.Context, view JobView, cancel *CancelFlag) Result
}

func (s *stubExecutor) Execute(ctx context.Context, view JobView, cancel *CancelFlag) Result {
	s.mu.Lock()
	s.started = append(s.started, view.ID)
	s.mu.Unlock()
	if s.run == nil {
		return Result{Text: "done"}
	}
	return s.run(ctx, view, cancel)
}

func (s *stubExecutor) startedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

type recordedNote struct {
	chatID int64
	text   string
}

type recorder struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recorder) notify(_ context.Context, chatID int64, text string) {
	r.mu.Lock()
	r.notes = append(r.notes, recordedNote{chatID, text})
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func startService(t *testing.T, cfg Config, exec Executor, notify NotifyFunc) *Service {
	t.Helper()
	s := New(cfg, exec, notify, nil, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func submitReq(user int64) SubmitRequest {
	return SubmitRequest{
		UserID: user, UserName: "u", ChatID: user,
		CourseID: 1, CourseName: "course", Mode: "all",
		Description: "course, all chapters",
	}
}

func TestWorkerClamp(t *testing.T) {
	t.Parallel()

	if s := New(Config{Workers: 0}, &stubExecutor{}, nil, nil, testLogger()); s.cfg.Workers != 1 {
		t.Fatalf("workers=0 should clamp to 1, got %d", s.cfg.Workers)
	}
	if s := New(Config{Workers: 10}, &stubExecutor{}, nil, nil, testLogger()); s.cfg.Workers != 3 {
		t.Fatalf("workers=10 should clamp to 3, got %d", s.cfg.Workers)
	}
}

func TestSingleFlightPerUser(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	exec := &stubExecutor{run: func(context.Context, JobView, *CancelFlag) Result {
		<-release
		return Result{Text: "done"}
	}}
	s := startService(t, Config{Workers: 1}, exec, nil)

	first, _, err := s.Submit(submitReq(7))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, _, err := s.Submit(submitReq(7)); !errors.Is(err, ErrActiveJob) {
		t.Fatalf("second submit: want ErrActiveJob, got %v", err)
	}
	// a different user is unaffected
	if _, _, err := s.Submit(submitReq(8)); err != nil {
		t.Fatalf("other user submit: %v", err)
	}

	close(release)
	waitFor(t, func() bool {
		v, ok := s.AdminDetail(first.ID)
		return ok && v.Status == StatusCompleted
	})

	// the finished job no longer blocks a new one
	if _, _, err := s.Submit(submitReq(7)); err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
}

func TestFIFOOrder(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	exec := &stubExecutor{run: func(context.Context, JobView, *CancelFlag) Result {
		<-release
		return Result{}
	}}
	s := startService(t, Config{Workers: 1}, exec, nil)

	var ids []string
	for user := int64(1); user <= 3; user++ {
		v, _, err := s.Submit(submitReq(user))
		if err != nil {
			t.Fatalf("submit %d: %v", user, err)
		}
		ids = append(ids, v.ID)
	}

	waitFor(t, func() bool { return len(exec.startedIDs()) == 1 })
	close(release)
	waitFor(t, func() bool { return len(exec.startedIDs()) == 3 })

	got := exec.startedIDs()
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("dispatch order %v, want %v", got, ids)
		}
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	t.Parallel()

	blockFirst := make(chan struct{})
	exec := &stubExecutor{run: func(context.Context, JobView, *CancelFlag) Result {
		<-blockFirst
		return Result{}
	}}
	notes := &recorder{}
	s := startService(t, Config{Workers: 1}, exec, notes.notify)

	running, _, err := s.Submit(submitReq(1))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(exec.startedIDs()) == 1 })

	queued, _, err := s.Submit(submitReq(2))
	if err != nil {
		t.Fatal(err)
	}

	status, err := s.Cancel(queued.ID, 2, false)
	if err != nil || status != StatusCanceled {
		t.Fatalf("cancel queued: status=%s err=%v", status, err)
	}

	close(blockFirst)
	waitFor(t, func() bool {
		v, ok := s.AdminDetail(running.ID)
		return ok && v.Status == StatusCompleted
	})

	if got := exec.startedIDs(); len(got) != 1 {
		t.Fatalf("canceled queued job must never start, executor saw %v", got)
	}
	v, _ := s.AdminDetail(queued.ID)
	if v.Status != StatusCanceled {
		t.Fatalf("queued job status: %s", v.Status)
	}
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{run: func(ctx context.Context, _ JobView, cancel *CancelFlag) Result {
		for !cancel.Canceled() {
			select {
			case <-ctx.Done():
				return Result{Canceled: true}
			case <-time.After(time.Millisecond):
			}
		}
		return Result{Canceled: true, Text: "Task canceled."}
	}}
	s := startService(t, Config{Workers: 1}, exec, nil)

	v, _, err := s.Submit(submitReq(1))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(exec.startedIDs()) == 1 })

	status, err := s.Cancel(v.ID, 1, false)
	if err != nil || status != StatusCanceling {
		t.Fatalf("cancel running: status=%s err=%v", status, err)
	}

	waitFor(t, func() bool {
		got, ok := s.AdminDetail(v.ID)
		return ok && got.Status == StatusCanceled
	})
}

func TestCancelOwnershipAndIdempotence(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	exec := &stubExecutor{run: func(_ context.Context, _ JobView, cancel *CancelFlag) Result {
		<-release
		return Result{Canceled: cancel.Canceled()}
	}}
	s := startService(t, Config{Workers: 1}, exec, nil)

	v, _, err := s.Submit(submitReq(1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Cancel(v.ID, 99, false); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign cancel: want ErrNotOwner, got %v", err)
	}
	if _, err := s.Cancel(v.ID, 99, true); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if _, err := s.Cancel("nope", 1, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: want ErrNotFound, got %v", err)
	}

	close(release)
	waitFor(t, func() bool {
		got, ok := s.AdminDetail(v.ID)
		return ok && got.Status.Terminal()
	})
	if _, err := s.Cancel(v.ID, 1, false); !errors.Is(err, ErrFinished) {
		t.Fatalf("cancel finished: want ErrFinished, got %v", err)
	}
}

func TestTwoNotificationsPerJob(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{run: func(context.Context, JobView, *CancelFlag) Result {
		return Result{Text: "Task finished."}
	}}
	notes := &recorder{}
	s := startService(t, Config{Workers: 1}, exec, notes.notify)

	v, _, err := s.Submit(submitReq(5))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got, ok := s.AdminDetail(v.ID)
		return ok && got.Status == StatusCompleted
	})
	waitFor(t, func() bool { return notes.count() == 2 })
}

func TestCleanupPurgesOldFinishedJobs(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{}
	s := startService(t, Config{Workers: 1, Retention: time.Hour}, exec, nil)

	v, _, err := s.Submit(submitReq(1))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got, ok := s.AdminDetail(v.ID)
		return ok && got.Status == StatusCompleted
	})

	if n := s.Cleanup(time.Now()); n != 0 {
		t.Fatalf("fresh job purged: %d", n)
	}
	if n := s.Cleanup(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("want 1 purged job, got %d", n)
	}
	if _, ok := s.AdminDetail(v.ID); ok {
		t.Fatal("job still visible after cleanup")
	}
}

func TestStatusNewestFirst(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{}
	s := startService(t, Config{Workers: 1}, exec, nil)

	first, _, err := s.Submit(submitReq(1))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got, ok := s.AdminDetail(first.ID)
		return ok && got.Status == StatusCompleted
	})

	second, _, err := s.Submit(submitReq(1))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got, ok := s.AdminDetail(second.ID)
		return ok && got.Status == StatusCompleted
	})

	views := s.Status(1)
	if len(views) != 2 {
		t.Fatalf("want 2 jobs, got %d", len(views))
	}
	if views[0].ID != second.ID {
		t.Fatalf("want newest first, got %s then %s", views[0].ID, views[1].ID)
	}
}

package scheduler

import (
	"fmt"
	"runtime/debug"

	"quizbot/pkg/logx"
)

func (s *Service) worker(n int) {
	defer s.wg.Done()
	log := s.log.With(logx.Int("worker", n))
	for {
		select {
		case <-s.runCtx.Done():
			return
		case j := <-s.queue:
			if !s.beginJob(j) {
				// canceled while queued; already finalized by Cancel
				log.Debug("discarding canceled job", logx.String("job", j.id))
				continue
			}
			log.Info("job started", logx.String("job", j.id), logx.Int64("user", j.req.UserID))
			s.notify(s.runCtx, j.req.ChatID,
				fmt.Sprintf("Task %s started: %s", j.id, j.req.Description))

			result := s.execute(j, log)
			s.finishJob(j, result, log)
		}
	}
}

// beginJob transitions queued -> running; it refuses jobs that were canceled
// while waiting in the channel.
func (s *Service) beginJob(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.status != StatusQueued {
		return false
	}
	j.status = StatusRunning
	j.startedAt = s.now()
	s.publish("scheduler.job.started", j.view())
	return true
}

// execute wraps the executor with panic recovery so one crashing job cannot
// take down its worker.
func (s *Service) execute(j *job, log logx.Logger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked",
				logx.String("job", j.id),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			result = Result{Failed: true, Text: "Task failed: internal error."}
		}
	}()
	return s.exec.Execute(s.runCtx, j.view(), j.flag)
}

func (s *Service) finishJob(j *job, result Result, log logx.Logger) {
	s.mu.Lock()
	j.finishedAt = s.now()
	j.result = result
	switch {
	case result.Canceled:
		j.status = StatusCanceled
	case result.Failed:
		j.status = StatusFailed
	default:
		// a canceling job that ran past the last checkpoint completes normally
		j.status = StatusCompleted
	}
	view := j.view()
	s.mu.Unlock()

	s.publish("scheduler.job.finished", view)
	log.Info("job finished",
		logx.String("job", j.id), logx.String("status", string(view.Status)))
	if result.Text != "" {
		s.notify(s.runCtx, j.req.ChatID, result.Text)
	}
}

package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"quizbot/pkg/logx"
)

// supervisor runs named goroutines and cancels the whole group when any of
// them returns an error or panics.
type supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	wg   sync.WaitGroup
	once sync.Once
	err  error
}

func newSupervisor(parent context.Context, log logx.Logger) *supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				s.fail(fmt.Errorf("%s panicked: %v", name, r))
			}
		}()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error("goroutine exited", logx.String("name", name), logx.Err(err))
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *supervisor) fail(err error) {
	s.once.Do(func() {
		s.err = err
		s.cancel()
	})
}

func (s *supervisor) Cancel() { s.cancel() }

// Wait blocks until every goroutine has returned or ctx expires.
func (s *supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

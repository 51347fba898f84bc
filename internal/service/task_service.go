package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// TaskService runs its body on a dedicated goroutine. Start returns as soon
// as the goroutine is scheduled; Stop cancels it and blocks until it exits.
type TaskService struct {
	*DefaultService

	tomb     tomb.Tomb
	mu       sync.Mutex
	started  bool
	waitOnce sync.Once
}

// NewTaskService creates a service whose body runs in the background
func NewTaskService(name string, run RunFunc) *TaskService {
	return &TaskService{
		DefaultService: NewDefaultService(name, run),
	}
}

// Start schedules the service body and returns immediately
func (s *TaskService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("%s is already started", s.Name())
	}
	if s.Cancelled() {
		return fmt.Errorf("%s is stopped", s.Name())
	}
	s.started = true

	s.tomb.Go(s.runGuarded)
	return nil
}

// Stop cancels the service and waits for the body to return. A failure of
// the body is logged, never returned: shutdown always completes cleanly.
func (s *TaskService) Stop() error {
	_ = s.DefaultService.Stop()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.tomb.Kill(nil)
	s.waitOnce.Do(func() {
		if err := s.tomb.Wait(); err != nil {
			log.Error().
				Err(err).
				Str("service", s.Name()).
				Msg("Service terminated with error")
		}
	})
	return nil
}

// Dead returns a channel closed once the body has returned
func (s *TaskService) Dead() <-chan struct{} {
	return s.tomb.Dead()
}

// Err returns the failure the body terminated with. It returns nil while
// the body is still running or if it never started.
func (s *TaskService) Err() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.tomb.Dead():
		return s.tomb.Err()
	default:
		return nil
	}
}

func (s *TaskService) runGuarded() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.Name(), r)
		}
	}()

	err = s.run(s.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

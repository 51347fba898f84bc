package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Service is a named unit of work that can be started and stopped
type Service interface {
	Name() string
	Start() error
	Stop() error
}

// RunFunc is the body of a service. It must return once ctx is cancelled.
type RunFunc func(ctx context.Context) error

// DefaultService owns a cancellation signal and runs its body on the
// caller's goroutine. The signal moves from live to cancelled once and never
// reverts.
type DefaultService struct {
	name string
	run  RunFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	onStop  []func()
}

// NewDefaultService creates a service that calls run from Start
func NewDefaultService(name string, run RunFunc) *DefaultService {
	ctx, cancel := context.WithCancel(context.Background())
	return &DefaultService{
		name:   name,
		run:    run,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the service name used in diagnostics
func (s *DefaultService) Name() string {
	return s.name
}

// Context returns the context cancelled by Stop
func (s *DefaultService) Context() context.Context {
	return s.ctx
}

// Cancelled reports whether Stop has been called
func (s *DefaultService) Cancelled() bool {
	return s.ctx.Err() != nil
}

// OnStop registers fn to be called synchronously when the service is
// cancelled. If the service is already cancelled fn runs immediately.
// fn must not block.
func (s *DefaultService) OnStop(fn func()) {
	s.mu.Lock()
	if !s.stopped {
		s.onStop = append(s.onStop, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notify(fn)
}

// Start runs the service body and returns its result
func (s *DefaultService) Start() error {
	return s.run(s.ctx)
}

// Stop cancels the service. Calling it more than once is a no-op.
func (s *DefaultService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	callbacks := s.onStop
	s.onStop = nil
	s.cancel()
	s.mu.Unlock()

	for _, fn := range callbacks {
		s.notify(fn)
	}
	return nil
}

func (s *DefaultService) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("service", s.name).
				Interface("panic", r).
				Msg("Stop callback panicked")
		}
	}()
	fn()
}

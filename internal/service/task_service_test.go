package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskService_StartDoesNotBlock(t *testing.T) {
	running := make(chan struct{})
	svc := NewTaskService("background", func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, svc.Start())

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("body did not start")
	}

	require.NoError(t, svc.Stop())
	assert.NoError(t, svc.Err())
}

func TestTaskService_StopWaitsForExit(t *testing.T) {
	var exited int32
	svc := NewTaskService("drain", func(ctx context.Context) error {
		<-ctx.Done()
		// Simulate unwinding work after cancellation
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&exited, 1)
		return nil
	})

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
	assert.Equal(t, int32(1), atomic.LoadInt32(&exited))

	select {
	case <-svc.Dead():
	default:
		t.Fatal("Dead channel not closed after Stop")
	}
}

func TestTaskService_StopSuppressesFailure(t *testing.T) {
	boom := errors.New("boom")
	svc := NewTaskService("failing", func(ctx context.Context) error {
		<-ctx.Done()
		return boom
	})

	require.NoError(t, svc.Start())
	assert.NoError(t, svc.Stop())
	assert.ErrorIs(t, svc.Err(), boom)

	// Second stop has the same effect and still does not raise
	assert.NoError(t, svc.Stop())
}

func TestTaskService_StopRecoversPanic(t *testing.T) {
	svc := NewTaskService("panicking", func(ctx context.Context) error {
		panic("worker exploded")
	})

	require.NoError(t, svc.Start())
	<-svc.Dead()

	assert.NotPanics(t, func() { _ = svc.Stop() })
	require.Error(t, svc.Err())
	assert.Contains(t, svc.Err().Error(), "worker exploded")
}

func TestTaskService_StopBeforeStart(t *testing.T) {
	svc := NewTaskService("never", func(ctx context.Context) error { return nil })

	assert.NoError(t, svc.Stop())
	assert.Error(t, svc.Start())
	assert.NoError(t, svc.Err())
}

func TestTaskService_DoubleStart(t *testing.T) {
	svc := NewTaskService("twice", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())
	require.NoError(t, svc.Stop())
}

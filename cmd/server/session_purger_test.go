package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSessionManager struct {
	calls chan struct{}
	err   error
}

func newFakeSessionManager() *fakeSessionManager {
	return &fakeSessionManager{calls: make(chan struct{}, 1)}
}

func (f *fakeSessionManager) PurgeExpired() error {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.err
}

func TestStartSessionPurgeWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan time.Time, 1)
	stopped := make(chan struct{})
	sessions := newFakeSessionManager()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSessionPurgeWorkerWithClock(ctx, logger, sessions, time.Minute, func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() { close(stopped) }
	})

	ticks <- time.Now()
	select {
	case <-sessions.calls:
	case <-time.After(time.Second):
		t.Fatal("expected purge to be invoked")
	}

	cancel()
	stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected tick source to stop after context cancellation")
	}
}

func TestStartSessionPurgeWorkerDisabled(t *testing.T) {
	stop := startSessionPurgeWorker(context.Background(), nil, nil, time.Minute)
	stop()

	stop = startSessionPurgeWorker(context.Background(), nil, newFakeSessionManager(), 0)
	stop()
}

func TestStartSessionPurgeWorkerStopIsIdempotent(t *testing.T) {
	ticks := make(chan time.Time)
	sessions := newFakeSessionManager()

	stop := startSessionPurgeWorkerWithClock(context.Background(), nil, sessions, time.Minute, func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	})

	stop()
	stop()
}

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionPurger interface {
	PurgeExpired() error
}

// clock abstracts the purge tick source so tests can drive it directly.
type clock func(time.Duration) (<-chan time.Time, func())

func tickerClock(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// startSessionPurgeWorker sweeps expired sessions out of the store on a
// fixed interval until the context is cancelled or the returned stop
// function is called. Stop blocks until the worker has exited.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration) func() {
	return startSessionPurgeWorkerWithClock(ctx, logger, sessions, interval, tickerClock)
}

func startSessionPurgeWorkerWithClock(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration, tick clock) func() {
	if sessions == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticks, stopTicks := tick(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			stopTicks()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticks:
				if err := sessions.PurgeExpired(); err != nil && logger != nil {
					logger.Error("failed to purge expired sessions", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

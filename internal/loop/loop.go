// Package loop implements the single threaded cooperative scheduler the guide
// engine runs on. All engine code (sequencer, resolver, overlay) executes on
// one loop goroutine; timers and events from other goroutines are posted into
// it, so the engine never needs locks.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("loop stopped")

// Timer is a scheduled callback. Stop reports whether it prevented the
// callback from running (again).
type Timer interface {
	Stop() bool
}

// Scheduler is what engine components need from the loop.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn once on the loop after d.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every runs fn on the loop every d until stopped.
	Every(d time.Duration, fn func()) Timer
	// Post runs fn on the loop as soon as possible.
	Post(fn func())
}

// Loop is the real-time Scheduler backed by a single goroutine started with Run.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes posted tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range tasks {
			fn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loopTimer struct {
	stopped atomic.Bool
	timer   *time.Timer
	stopCh  chan struct{}
	once    sync.Once
}

func (t *loopTimer) Stop() bool {
	wasLive := !t.stopped.Swap(true)
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.stopCh != nil {
		t.once.Do(func() { close(t.stopCh) })
	}
	return wasLive
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			// a timer stopped after it fired but before it ran must not run
			if lt.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return lt
}

func (l *Loop) Every(d time.Duration, fn func()) Timer {
	lt := &loopTimer{stopCh: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Post(func() {
					if !lt.stopped.Load() {
						fn()
					}
				})
			case <-lt.stopCh:
				return
			case <-l.done:
				return
			}
		}
	}()
	return lt
}

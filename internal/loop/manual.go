package loop

import (
	"sync"
	"time"
)

// Manual is a Scheduler with virtual time. Nothing runs until Advance or
// Flush is called; callbacks then run synchronously on the caller's
// goroutine in due-time order. It is meant for tests.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
	posted []func()
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	every   time.Duration
	seq     int
	fn      func()
	stopped bool
}

// NewManual returns a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return m.add(d, d, fn)
}

func (m *Manual) add(d, every time.Duration, fn func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), every: every, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.posted = append(m.posted, fn)
	m.mu.Unlock()
}

func (t *manualTimer) Stop() bool {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	m.removeLocked(t)
	return true
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, o := range m.timers {
		if o == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Pending returns the number of live timers and posted tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers) + len(m.posted)
}

// Flush runs posted tasks until none are left, without moving the clock.
func (m *Manual) Flush() {
	for {
		m.mu.Lock()
		if len(m.posted) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.posted[0]
		m.posted = m.posted[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, running every timer that becomes
// due in order, and flushing posted tasks after each callback.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now.Add(d)
	m.mu.Unlock()
	m.Flush()
	for {
		m.mu.Lock()
		var next *manualTimer
		for _, t := range m.timers {
			if t.at.After(end) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			m.now = end
			m.mu.Unlock()
			return
		}
		m.now = next.at
		if next.every > 0 {
			m.seq++
			next.at = next.at.Add(next.every)
			next.seq = m.seq
		} else {
			next.stopped = true
			m.removeLocked(next)
		}
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.Flush()
	}
}

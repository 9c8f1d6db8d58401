package overlay

import (
	"github.com/jakopako/goguide/internal/loop"
	"github.com/jakopako/goguide/internal/page"
)

// resources are the observers, listeners and timers owned by one attachment.
type resources struct {
	observers []page.Cancel
	listeners []page.Cancel
	viewport  page.Cancel
	timers    map[string]loop.Timer
}

func newResources() *resources {
	return &resources{timers: map[string]loop.Timer{}}
}

// setTimer stores t under name, stopping the timer it replaces.
func (r *resources) setTimer(name string, t loop.Timer) {
	r.stopTimer(name)
	r.timers[name] = t
}

func (r *resources) stopTimer(name string) {
	if t, ok := r.timers[name]; ok {
		t.Stop()
		delete(r.timers, name)
	}
}

func (r *resources) hasTimer(name string) bool {
	_, ok := r.timers[name]
	return ok
}

func (r *resources) releaseObservers() {
	for _, c := range r.observers {
		c()
	}
	r.observers = nil
}

func (r *resources) releaseListeners() {
	for _, c := range r.listeners {
		c()
	}
	r.listeners = nil
}

func (r *resources) release() {
	for name := range r.timers {
		r.stopTimer(name)
	}
	r.releaseObservers()
	r.releaseListeners()
	if r.viewport != nil {
		r.viewport()
		r.viewport = nil
	}
}

func (r *resources) empty() bool {
	return len(r.timers) == 0 && len(r.observers) == 0 && len(r.listeners) == 0 && r.viewport == nil
}

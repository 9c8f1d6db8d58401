// Package overlay anchors the guide visuals (cursor, highlight and guidance
// card) to a target element and keeps them there while the page changes.
//
// A Manager owns at most one live Handle. Attaching tears the previous handle
// down before anything new is created. A fresh overlay stays invisible until
// the target has held still for a few polls, or until the poll budget runs out.
// Afterwards mutations and viewport changes keep it in place.
//
// Everything in this package runs on the loop goroutine.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/loop"
	"github.com/jakopako/goguide/internal/page"
)

// ErrNoTarget is returned by Attach for a nil target.
var ErrNoTarget = errors.New("overlay: no target")

// Config holds the timing and threshold settings of the stability gate and
// the reactive triggers.
type Config struct {
	PollInterval      time.Duration `yaml:"poll_interval" env:"GOGUIDE_OVERLAY_POLL_INTERVAL" env-default:"100ms"`
	RevealAfter       int           `yaml:"reveal_after" env-default:"3"`
	SettleAfter       int           `yaml:"settle_after" env-default:"5"`
	MaxAttempts       int           `yaml:"max_attempts" env:"GOGUIDE_OVERLAY_MAX_ATTEMPTS" env-default:"30"`
	ModalMaxAttempts  int           `yaml:"modal_max_attempts" env-default:"60"`
	ModalPollInterval time.Duration `yaml:"modal_poll_interval" env-default:"200ms"`
	AncestorDepth     int           `yaml:"ancestor_depth" env-default:"5"`
	FrameInterval     time.Duration `yaml:"frame_interval" env-default:"16ms"`
	MutationDebounce  time.Duration `yaml:"mutation_debounce" env-default:"50ms"`
	ScrollIntoView    bool          `yaml:"scroll_into_view" env-default:"true"`
	ScrollDuration    time.Duration `yaml:"scroll_duration" env-default:"400ms"`
	ScrollMargin      float64       `yaml:"scroll_margin" env-default:"80"`
	StreamText        bool          `yaml:"stream_text"`
	StreamInterval    time.Duration `yaml:"stream_interval" env-default:"20ms"`
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		RevealAfter:       3,
		SettleAfter:       5,
		MaxAttempts:       30,
		ModalMaxAttempts:  60,
		ModalPollInterval: 200 * time.Millisecond,
		AncestorDepth:     5,
		FrameInterval:     16 * time.Millisecond,
		MutationDebounce:  50 * time.Millisecond,
		ScrollDuration:    400 * time.Millisecond,
		ScrollMargin:      80,
		StreamInterval:    20 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RevealAfter <= 0 {
		c.RevealAfter = d.RevealAfter
	}
	if c.SettleAfter < c.RevealAfter {
		c.SettleAfter = max(d.SettleAfter, c.RevealAfter)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ModalMaxAttempts <= 0 {
		c.ModalMaxAttempts = d.ModalMaxAttempts
	}
	if c.ModalPollInterval <= 0 {
		c.ModalPollInterval = d.ModalPollInterval
	}
	if c.AncestorDepth < 0 {
		c.AncestorDepth = d.AncestorDepth
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	if c.MutationDebounce <= 0 {
		c.MutationDebounce = d.MutationDebounce
	}
	if c.StreamInterval <= 0 {
		c.StreamInterval = d.StreamInterval
	}
	return c
}

// AttachOptions are per attachment settings.
type AttachOptions struct {
	// Reresolve finds the target again after it was removed from the
	// document, for pages that re-render it.
	Reresolve func(ctx context.Context) (page.Element, error)
}

// Manager owns the single live overlay of a document.
type Manager struct {
	doc      page.Document
	renderer page.Renderer
	sched    loop.Scheduler
	cfg      Config
	active   *Handle
	// side table of live resources, keyed by the element the overlay was
	// attached to
	tracked map[page.Key]*resources
}

func NewManager(doc page.Document, renderer page.Renderer, sched loop.Scheduler, cfg Config) *Manager {
	return &Manager{
		doc:      doc,
		renderer: renderer,
		sched:    sched,
		cfg:      cfg.withDefaults(),
		tracked:  map[page.Key]*resources{},
	}
}

// Active returns the live handle or nil.
func (m *Manager) Active() *Handle { return m.active }

// Tracked returns the number of elements that still own resources.
func (m *Manager) Tracked() int { return len(m.tracked) }

// Attach mounts the visuals for target and starts tracking it. Any previous
// overlay is torn down first.
func (m *Manager) Attach(ctx context.Context, target page.Element, v page.Visuals, opts AttachOptions) (*Handle, error) {
	m.Detach(m.active)
	if target == nil {
		return nil, ErrNoTarget
	}
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "overlay"))
	nodes, err := m.renderer.Mount(v)
	if err != nil {
		return nil, fmt.Errorf("error while mounting overlay: %w", err)
	}
	nodes.SetOpacity(0)

	h := &Handle{
		m:        m,
		ctx:      ctx,
		logger:   logger,
		target:   target,
		anchor:   target,
		key:      target.Key(),
		nodes:    nodes,
		visuals:  v,
		opts:     opts,
		res:      newResources(),
		budget:   m.cfg.MaxAttempts,
		interval: m.cfg.PollInterval,
	}
	m.tracked[h.key] = h.res
	m.active = h

	rect, _ := h.measure()
	if !rect.HasSize() && inModal(m.doc, h.target) {
		h.modal = true
		h.budget = m.cfg.ModalMaxAttempts
		h.interval = m.cfg.ModalPollInterval
		logger.Debug("zero size target inside a modal, using the modal poll budget")
	}
	h.last = rect
	h.place(rect)
	h.observe()
	h.res.viewport = m.doc.OnViewportChange(func(page.ViewportChange) { h.scheduleFrame() })
	h.startPolling()
	metricAttached.Inc()
	logger.Debug(fmt.Sprintf("attached overlay to <%s>", target.Tag()))
	return h, nil
}

// Detach tears h down if it is the live handle. A nil or stale handle is
// ignored.
func (m *Manager) Detach(h *Handle) {
	if h == nil || h != m.active {
		return
	}
	h.teardown()
	m.active = nil
}

// Handle is one attachment of the overlay to a target.
type Handle struct {
	m        *Manager
	ctx      context.Context
	logger   *slog.Logger
	target   page.Element
	anchor   page.Element
	key      page.Key
	nodes    page.Nodes
	visuals  page.Visuals
	opts     AttachOptions
	res      *resources
	handlers []registration

	last     geometry.Rect
	stable   int
	attempts int
	budget   int
	interval time.Duration

	modal           bool
	degraded        bool
	revealed        bool
	forced          bool
	pendingMutation bool
	closed          bool
}

type registration struct {
	kinds []page.EventKind
	fn    func(page.Event)
}

func (h *Handle) Target() page.Element { return h.target }

// Anchor returns the element the visuals are placed around. It differs from
// the target when the overlay fell back to an ancestor.
func (h *Handle) Anchor() page.Element { return h.anchor }

func (h *Handle) Rect() geometry.Rect { return h.last }
func (h *Handle) Revealed() bool      { return h.revealed }
func (h *Handle) Forced() bool        { return h.forced }
func (h *Handle) Degraded() bool      { return h.degraded }
func (h *Handle) Modal() bool         { return h.modal }
func (h *Handle) Attempts() int       { return h.attempts }
func (h *Handle) Polling() bool       { return !h.closed && h.res.hasTimer("poll") }

// Inert reports whether the handle was torn down and released everything it
// registered.
func (h *Handle) Inert() bool {
	_, tracked := h.m.tracked[h.key]
	return h.closed && h.res.empty() && (!tracked || h.m.tracked[h.key] != h.res)
}

// Listen registers fn for user events of the given kinds on the target. The
// registration follows the target when it is re-resolved and is removed on
// teardown.
func (h *Handle) Listen(kinds []page.EventKind, fn func(page.Event)) error {
	if h.closed {
		return errors.New("overlay: handle closed")
	}
	reg := registration{kinds: kinds, fn: fn}
	if err := h.listen(reg); err != nil {
		return err
	}
	h.handlers = append(h.handlers, reg)
	return nil
}

func (h *Handle) listen(reg registration) error {
	cancel, err := h.m.doc.Listen(h.target, reg.kinds, func(ev page.Event) {
		if !h.closed {
			reg.fn(ev)
		}
	})
	if err != nil {
		return fmt.Errorf("error while listening on target: %w", err)
	}
	h.res.listeners = append(h.res.listeners, cancel)
	return nil
}

func (h *Handle) teardown() {
	if h.closed {
		return
	}
	h.closed = true
	h.res.release()
	h.nodes.Remove()
	if h.m.tracked[h.key] == h.res {
		delete(h.m.tracked, h.key)
	}
	h.logger.Debug("overlay torn down")
}

// measure returns the viewport rect of the anchor, re-resolving a detached
// target when possible. On failure the last known rect is returned.
func (h *Handle) measure() (geometry.Rect, error) {
	r, err := h.anchor.Rect()
	if err == nil {
		return r, nil
	}
	if errors.Is(err, page.ErrDetached) && h.reanchor() {
		if r, err = h.anchor.Rect(); err == nil {
			return r, nil
		}
	}
	h.logger.Debug(fmt.Sprintf("measuring target failed: %v", err))
	return h.last, err
}

// reanchor swaps a detached target for a freshly resolved one and moves the
// observers and listeners over.
func (h *Handle) reanchor() bool {
	if h.opts.Reresolve == nil {
		return false
	}
	el, err := h.opts.Reresolve(h.ctx)
	if err != nil || el == nil || !el.Attached() {
		return false
	}
	h.target = el
	h.anchor = el
	h.degraded = false
	h.res.releaseObservers()
	h.res.releaseListeners()
	h.observe()
	for _, reg := range h.handlers {
		if err := h.listen(reg); err != nil {
			h.logger.Warn(err.Error())
		}
	}
	metricReanchored.Inc()
	h.logger.Debug(fmt.Sprintf("re-anchored overlay to <%s>", el.Tag()))
	return true
}

func (h *Handle) observe() {
	doc := h.m.doc
	add := func(el page.Element, opts page.ObserveOptions) {
		if el == nil {
			return
		}
		cancel, err := doc.Observe(el, opts, h.onMutation)
		if err != nil {
			h.logger.Debug(fmt.Sprintf("observing <%s> failed: %v", el.Tag(), err))
			return
		}
		h.res.observers = append(h.res.observers, cancel)
	}
	add(h.target, page.ObserveOptions{ChildList: true, Attributes: true, Subtree: true})
	for _, a := range page.Ancestors(h.target, h.m.cfg.AncestorDepth) {
		add(a, page.ObserveOptions{Attributes: true})
	}
	add(doc.Body(), page.ObserveOptions{ChildList: true})
}

func (h *Handle) place(r geometry.Rect) {
	h.nodes.Place(r.ToDocument(h.m.doc.Viewport().Scroll))
}

// startPolling polls until the target settles. The attempt count carries
// over restarts, so the budget caps the polls of the handle's whole life.
func (h *Handle) startPolling() {
	if h.attempts >= h.budget {
		return
	}
	h.stable = 0
	h.res.setTimer("poll", h.m.sched.Every(h.interval, h.poll))
}

func (h *Handle) stopPolling() {
	h.res.stopTimer("poll")
}

func (h *Handle) poll() {
	if h.closed {
		return
	}
	h.attempts++
	rect, _ := h.measure()
	if h.modal && !h.degraded && !rect.HasSize() && h.attempts >= h.budget/2 {
		if a := firstSizedAncestor(h.target); a != nil {
			h.anchor = a
			h.degraded = true
			metricDegraded.Inc()
			h.logger.Info(fmt.Sprintf("target has no size, anchoring to ancestor <%s>", a.Tag()))
			rect, _ = h.measure()
		}
	}
	switch {
	case h.modal && !rect.HasSize():
		// a modal target without size is still animating in
		h.stable = 0
	case rect.Equal(h.last, 1):
		h.stable++
	default:
		h.stable = 0
	}
	h.last = rect
	h.place(rect)

	switch {
	case h.stable >= h.m.cfg.SettleAfter:
		h.reveal()
		h.stopPolling()
	case h.stable >= h.m.cfg.RevealAfter:
		h.reveal()
	case h.attempts >= h.budget && !h.revealed:
		h.forced = true
		metricForcedReveals.Inc()
		h.logger.Debug(fmt.Sprintf("target not stable after %d polls, revealing anyway", h.attempts))
		h.reveal()
	}
	if h.attempts >= h.budget {
		h.stopPolling()
	}
}

func (h *Handle) reveal() {
	if h.revealed {
		return
	}
	h.revealed = true
	h.nodes.SetOpacity(1)
	if h.m.cfg.ScrollIntoView && !geometry.IsInViewport(h.last, h.m.doc.Viewport()) {
		h.scrollIntoView()
	}
	if h.m.cfg.StreamText && h.visuals.Text != "" {
		h.streamText()
	}
}

// scheduleFrame coalesces recomputes to one per frame.
func (h *Handle) scheduleFrame() {
	if h.closed || h.res.hasTimer("frame") {
		return
	}
	h.res.setTimer("frame", h.m.sched.AfterFunc(h.m.cfg.FrameInterval, h.recompute))
}

func (h *Handle) onMutation() {
	if h.closed {
		return
	}
	h.res.setTimer("debounce", h.m.sched.AfterFunc(h.m.cfg.MutationDebounce, func() {
		delete(h.res.timers, "debounce")
		h.pendingMutation = true
		h.scheduleFrame()
	}))
}

func (h *Handle) recompute() {
	delete(h.res.timers, "frame")
	if h.closed {
		return
	}
	fromMutation := h.pendingMutation
	h.pendingMutation = false
	rect, _ := h.measure()
	changed := !rect.Equal(h.last, 1)
	h.last = rect
	h.place(rect)
	if fromMutation && changed && !h.Polling() {
		h.logger.Debug("target moved after settling, polling again")
		h.startPolling()
	}
}

func (h *Handle) scrollIntoView() {
	vp := h.m.doc.Viewport()
	to := geometry.ScrollTarget(h.last, vp, h.m.cfg.ScrollMargin)
	frames := geometry.ScrollFrames(vp.Scroll, to, h.m.cfg.ScrollDuration, h.m.cfg.FrameInterval)
	i := 0
	h.res.setTimer("scroll", h.m.sched.Every(h.m.cfg.FrameInterval, func() {
		if h.closed {
			return
		}
		h.m.doc.ScrollTo(frames[i])
		i++
		if i == len(frames) {
			h.res.stopTimer("scroll")
		}
	}))
}

func (h *Handle) streamText() {
	runes := []rune(h.visuals.Text)
	n := 0
	h.nodes.SetText("")
	h.res.setTimer("stream", h.m.sched.Every(h.m.cfg.StreamInterval, func() {
		if h.closed {
			return
		}
		n++
		h.nodes.SetText(string(runes[:n]))
		if n == len(runes) {
			h.res.stopTimer("stream")
		}
	}))
}

package overlay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/loop"
	"github.com/jakopako/goguide/internal/page"
	"github.com/jakopako/goguide/internal/page/htmldoc"
)

const fixture = `<html><body>
<div id="app">
	<div class="toolbar">
		<button id="save">Save</button>
		<button id="cancel">Cancel</button>
	</div>
</div>
<div id="portal" data-portal style="z-index: 10">
	<div role="dialog" id="dialog" style="z-index: 50">
		<div id="wrap"><button id="ok">OK</button></div>
	</div>
</div>
</body></html>`

var saveRect = geometry.Rect{Top: 100, Left: 40, Width: 80, Height: 30}

type env struct {
	doc      *htmldoc.Document
	renderer *htmldoc.Renderer
	sched    *loop.Manual
	m        *Manager
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ScrollIntoView = false
	return cfg
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	doc, err := htmldoc.NewFromString("https://example.com/", fixture)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	r := &htmldoc.Renderer{}
	sched := loop.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return &env{doc: doc, renderer: r, sched: sched, m: NewManager(doc, r, sched, cfg)}
}

func (e *env) attach(t *testing.T, el page.Element, opts AttachOptions) *Handle {
	t.Helper()
	h, err := e.m.Attach(context.Background(), el, page.Visuals{Title: "Step", Text: "Hi!"}, opts)
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	return h
}

func TestForceRevealAtCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 10
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	n := 0
	e.doc.SetRectFunc(save, func() geometry.Rect {
		n++
		return geometry.Rect{Top: float64(10 * n), Left: 5, Width: 50, Height: 20}
	})

	h := e.attach(t, save, AttachOptions{})
	o := e.renderer.Last()
	for i := 1; i < 10; i++ {
		e.sched.Advance(cfg.PollInterval)
		if o.Opacity != 0 {
			t.Fatalf("overlay visible after %d polls", i)
		}
	}
	e.sched.Advance(cfg.PollInterval)
	if o.Opacity != 1 || !h.Revealed() || !h.Forced() {
		t.Fatalf("expected a forced reveal at the cap, opacity=%v forced=%v", o.Opacity, h.Forced())
	}
	want := geometry.Rect{Top: float64(10 * n), Left: 5, Width: 50, Height: 20}
	if o.Rect != want {
		t.Errorf("overlay placed at %+v; want the final rect %+v", o.Rect, want)
	}
	if h.Polling() {
		t.Error("polling should stop after the cap")
	}
}

func TestRevealAfterStable(t *testing.T) {
	cfg := testConfig()
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	h := e.attach(t, save, AttachOptions{})
	o := e.renderer.Last()

	e.sched.Advance(2 * cfg.PollInterval)
	if o.Opacity != 0 {
		t.Fatal("overlay revealed before the target was stable")
	}
	e.sched.Advance(cfg.PollInterval)
	if o.Opacity != 1 || !h.Polling() {
		t.Fatalf("expected reveal after 3 stable polls while still polling, opacity=%v", o.Opacity)
	}
	e.sched.Advance(2 * cfg.PollInterval)
	if h.Polling() {
		t.Error("expected polling to stop once settled")
	}
	if h.Forced() {
		t.Error("stable target should not be force revealed")
	}
	if o.Rect != saveRect {
		t.Errorf("overlay placed at %+v; want %+v", o.Rect, saveRect)
	}
}

func TestPlacementUsesDocumentCoordinates(t *testing.T) {
	e := newEnv(t, testConfig())
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	e.doc.SetViewport(geometry.Viewport{Width: 1000, Height: 800, Scroll: geometry.Point{X: 0, Y: 300}})
	e.attach(t, save, AttachOptions{})
	if got := e.renderer.Last().Rect.Top; got != 400 {
		t.Errorf("Top = %v; want 400", got)
	}
}

func TestReattachReleasesPreviousTarget(t *testing.T) {
	e := newEnv(t, testConfig())
	save := e.doc.Find("#save")
	cancel := e.doc.Find("#cancel")
	e.doc.SetRect(save, saveRect)
	e.doc.SetRect(cancel, geometry.Rect{Top: 100, Left: 140, Width: 80, Height: 30})

	first := e.attach(t, save, AttachOptions{})
	clicks := 0
	if err := first.Listen([]page.EventKind{page.EventClick}, func(page.Event) { clicks++ }); err != nil {
		t.Fatal(err)
	}
	e.sched.Advance(150 * time.Millisecond)
	e.doc.SetAttr(save, "class", "busy")
	e.doc.ScrollTo(geometry.Point{Y: 10})

	second := e.attach(t, cancel, AttachOptions{})
	if !first.Inert() {
		t.Fatal("previous handle still owns resources")
	}
	if !e.renderer.Mounted[0].Removed {
		t.Error("previous overlay nodes not removed")
	}
	e.doc.Dispatch(save, page.Event{Kind: page.EventClick})
	if clicks != 0 {
		t.Error("listener of the previous handle still fired")
	}
	if e.m.Tracked() != 1 || e.m.Active() != second {
		t.Errorf("Tracked() = %d; want only the new target", e.m.Tracked())
	}

	e.m.Detach(second)
	if !second.Inert() {
		t.Error("detached handle not inert")
	}
	if got := e.doc.Registrations(); got != 0 {
		t.Errorf("Registrations() = %d after detach; want 0", got)
	}
	if got := e.sched.Pending(); got != 0 {
		t.Errorf("Pending() = %d after detach; want 0", got)
	}
	if e.m.Tracked() != 0 {
		t.Errorf("Tracked() = %d after detach; want 0", e.m.Tracked())
	}
}

func TestViewportChangesAreCoalesced(t *testing.T) {
	cfg := testConfig()
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	e.attach(t, save, AttachOptions{})
	e.sched.Advance(5 * cfg.PollInterval)
	o := e.renderer.Last()
	before := o.Placements

	e.doc.ScrollTo(geometry.Point{Y: 10})
	e.doc.ScrollTo(geometry.Point{Y: 20})
	e.doc.Resize(800, 600)
	e.sched.Advance(cfg.FrameInterval)
	if got := o.Placements - before; got != 1 {
		t.Errorf("expected one recompute for three viewport events, got %d", got)
	}
	if o.Rect.Top != saveRect.Top+20 {
		t.Errorf("Top = %v; want %v", o.Rect.Top, saveRect.Top+20)
	}
}

func TestMutationRestartsPolling(t *testing.T) {
	cfg := testConfig()
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	h := e.attach(t, save, AttachOptions{})
	e.sched.Advance(5 * cfg.PollInterval)
	if h.Polling() {
		t.Fatal("expected the overlay to be settled")
	}

	moved := geometry.Rect{Top: 300, Left: 40, Width: 80, Height: 30}
	e.doc.SetRect(save, moved)
	e.doc.SetAttr(save, "class", "moved")
	e.doc.SetAttr(save, "class", "moved again")
	e.sched.Advance(cfg.MutationDebounce + cfg.FrameInterval)
	if !h.Polling() {
		t.Error("expected polling to restart after the target moved")
	}
	if e.renderer.Last().Rect != moved {
		t.Errorf("overlay placed at %+v; want %+v", e.renderer.Last().Rect, moved)
	}
}

func TestModalTargetDegradesToAncestor(t *testing.T) {
	cfg := testConfig()
	e := newEnv(t, cfg)
	e.doc.SetRect(e.doc.Find("#portal"), geometry.Rect{Width: 1920, Height: 1080})
	e.doc.SetRect(e.doc.Find("#dialog"), geometry.Rect{Top: 200, Left: 600, Width: 600, Height: 400})
	wrapRect := geometry.Rect{Top: 250, Left: 650, Width: 500, Height: 100}
	e.doc.SetRect(e.doc.Find("#wrap"), wrapRect)
	ok := e.doc.Find("#ok")

	h := e.attach(t, ok, AttachOptions{})
	if !h.Modal() {
		t.Fatal("expected modal budget for a zero size target inside a dialog")
	}
	half := cfg.ModalMaxAttempts / 2
	e.sched.Advance(time.Duration(half-1) * cfg.ModalPollInterval)
	if h.Degraded() || h.Revealed() {
		t.Fatalf("degraded=%v revealed=%v before half the budget", h.Degraded(), h.Revealed())
	}
	e.sched.Advance(cfg.ModalPollInterval)
	if !h.Degraded() || !page.Same(h.Anchor(), e.doc.Find("#wrap")) {
		t.Fatal("expected anchoring to the first sized ancestor")
	}
	e.sched.Advance(time.Duration(cfg.RevealAfter) * cfg.ModalPollInterval)
	if !h.Revealed() || h.Forced() {
		t.Errorf("revealed=%v forced=%v; want a regular reveal on the ancestor", h.Revealed(), h.Forced())
	}
	if e.renderer.Last().Rect != wrapRect {
		t.Errorf("overlay placed at %+v; want %+v", e.renderer.Last().Rect, wrapRect)
	}
}

func TestReresolveDetachedTarget(t *testing.T) {
	cfg := testConfig()
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	h := e.attach(t, save, AttachOptions{
		Reresolve: func(context.Context) (page.Element, error) {
			return e.doc.Find("#save"), nil
		},
	})
	var got []page.Event
	if err := h.Listen([]page.EventKind{page.EventClick}, func(ev page.Event) { got = append(got, ev) }); err != nil {
		t.Fatal(err)
	}

	e.doc.Remove(save)
	if err := e.doc.AppendHTML(e.doc.Find(".toolbar"), `<button id="save">Save</button>`); err != nil {
		t.Fatal(err)
	}
	fresh := e.doc.Find("#save")
	e.doc.SetRect(fresh, geometry.Rect{Top: 120, Left: 40, Width: 80, Height: 30})
	e.sched.Advance(cfg.PollInterval)

	if !page.Same(h.Target(), fresh) {
		t.Fatal("expected the handle to follow the re-rendered target")
	}
	e.doc.Dispatch(fresh, page.Event{Kind: page.EventClick})
	if len(got) != 1 {
		t.Errorf("expected the listener to move to the new target, got %d events", len(got))
	}
}

func TestStreamText(t *testing.T) {
	cfg := testConfig()
	cfg.StreamText = true
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	e.attach(t, save, AttachOptions{})
	o := e.renderer.Last()

	e.sched.Advance(time.Duration(cfg.RevealAfter) * cfg.PollInterval)
	if o.Text != "" {
		t.Fatalf("Text = %q right after reveal; want empty", o.Text)
	}
	e.sched.Advance(cfg.StreamInterval)
	if o.Text != "H" {
		t.Errorf("Text = %q; want %q", o.Text, "H")
	}
	e.sched.Advance(2 * cfg.StreamInterval)
	if o.Text != "Hi!" {
		t.Errorf("Text = %q; want %q", o.Text, "Hi!")
	}
}

func TestScrollIntoView(t *testing.T) {
	cfg := testConfig()
	cfg.ScrollIntoView = true
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	far := geometry.Rect{Top: 2000, Left: 10, Width: 100, Height: 40}
	e.doc.SetRect(save, far)
	e.attach(t, save, AttachOptions{})

	e.sched.Advance(time.Duration(cfg.RevealAfter) * cfg.PollInterval)
	e.sched.Advance(cfg.ScrollDuration + cfg.FrameInterval)
	want := geometry.ScrollTarget(far, geometry.Viewport{Width: 1920, Height: 1080}, cfg.ScrollMargin)
	if got := e.doc.Viewport().Scroll; got != want {
		t.Errorf("scrolled to %+v; want %+v", got, want)
	}
}

func TestDetectModal(t *testing.T) {
	e := newEnv(t, testConfig())
	if DetectModal(e.doc) != nil {
		t.Fatal("containers without size must not count as visible")
	}
	e.doc.SetRect(e.doc.Find("#portal"), geometry.Rect{Width: 1920, Height: 1080})
	e.doc.SetRect(e.doc.Find("#dialog"), geometry.Rect{Top: 200, Left: 600, Width: 600, Height: 400})
	got := DetectModal(e.doc)
	if got == nil {
		t.Fatal("expected a modal")
	}
	if id, _ := got.Attr("id"); id != "dialog" {
		t.Errorf("DetectModal() = #%s; want the dialog with the highest z-index", id)
	}
}

func TestAttachNilTarget(t *testing.T) {
	e := newEnv(t, testConfig())
	if _, err := e.m.Attach(context.Background(), nil, page.Visuals{}, AttachOptions{}); err != ErrNoTarget {
		t.Errorf("expected ErrNoTarget, got %v", err)
	}
}

func TestPollBudgetSpansRestarts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 10
	e := newEnv(t, cfg)
	save := e.doc.Find("#save")
	e.doc.SetRect(save, saveRect)
	h := e.attach(t, save, AttachOptions{})
	e.sched.Advance(5 * cfg.PollInterval)
	if h.Polling() {
		t.Fatal("expected the overlay to be settled")
	}

	n := 0
	e.doc.SetRectFunc(save, func() geometry.Rect {
		n++
		return geometry.Rect{Top: float64(100 + 10*n), Left: 40, Width: 80, Height: 30}
	})
	for i := range 6 {
		e.doc.SetAttr(save, "class", fmt.Sprintf("frame-%d", i))
		e.sched.Advance(cfg.MutationDebounce + cfg.FrameInterval + 3*cfg.PollInterval)
	}
	if h.Attempts() != cfg.MaxAttempts {
		t.Errorf("made %d polls; want the budget of %d", h.Attempts(), cfg.MaxAttempts)
	}
	if h.Polling() {
		t.Error("polling restarted after the budget was used up")
	}
}

// Package page defines the boundary between the guide engine and the page it
// runs on. The engine only talks to these interfaces; internal/chrome
// implements them for a live browser tab and internal/page/htmldoc for an in
// memory document.
//
// Implementations deliver every callback on the engine's loop goroutine.
package page

import (
	"errors"

	"github.com/jakopako/goguide/internal/geometry"
)

// ErrDetached is returned when an element is no longer part of the document.
var ErrDetached = errors.New("element detached from document")

// Key identifies an element for as long as it lives. Two Element values that
// refer to the same node have the same key.
type Key string

// Element is a reference to a live page element.
type Element interface {
	Key() Key
	// Tag returns the lower-case tag name.
	Tag() string
	Attr(name string) (string, bool)
	// Text returns the element's text content, untrimmed.
	Text() string
	// Parent returns the parent element or nil for the root element.
	Parent() Element
	// Rect returns the viewport-relative bounding rect.
	Rect() (geometry.Rect, error)
	Attached() bool
	// Visible reports whether the element is rendered and not hidden.
	Visible() bool
	// ZIndex returns the computed stacking order, 0 when auto.
	ZIndex() int
}

// EventKind names a DOM event the engine listens for.
type EventKind string

const (
	EventClick  EventKind = "click"
	EventInput  EventKind = "input"
	EventChange EventKind = "change"
)

// Event is a user interaction observed on an element.
type Event struct {
	Kind  EventKind
	Value string
}

// ViewportChange is the kind of window event that moved the viewport.
type ViewportChange string

const (
	ViewportScroll      ViewportChange = "scroll"
	ViewportResize      ViewportChange = "resize"
	ViewportOrientation ViewportChange = "orientationchange"
)

// ObserveOptions mirrors MutationObserverInit.
type ObserveOptions struct {
	ChildList  bool
	Attributes bool
	Subtree    bool
}

// Cancel releases an observer or listener. Calling it more than once is safe.
type Cancel func()

// Document is the page the engine works on.
type Document interface {
	URL() string
	// QuerySelectorAll returns matches in document order. An invalid
	// selector is an error.
	QuerySelectorAll(selector string) ([]Element, error)
	Body() Element
	Viewport() geometry.Viewport
	ScrollTo(p geometry.Point)
	Observe(el Element, opts ObserveOptions, fn func()) (Cancel, error)
	Listen(el Element, kinds []EventKind, fn func(Event)) (Cancel, error)
	OnViewportChange(fn func(ViewportChange)) Cancel
	OnNavigate(fn func(url string)) Cancel
}

// Visuals describes what an overlay shows.
type Visuals struct {
	Title     string
	Text      string
	Cursor    bool
	Highlight bool
	StepIndex int
	StepCount int
}

// Nodes are the mounted overlay nodes of one attachment.
type Nodes interface {
	// Place positions the cursor, highlight and card around r, given in
	// absolute document coordinates.
	Place(r geometry.Rect)
	SetOpacity(o float64)
	SetText(text string)
	Remove()
}

// Renderer creates overlay nodes.
type Renderer interface {
	Mount(v Visuals) (Nodes, error)
}

// SessionFlag marks that a guide session is active in the current tab. It
// disappears when the tab is closed.
type SessionFlag interface {
	Set() error
	Present() (bool, error)
	Clear() error
}

// Same reports whether a and b refer to the same element.
func Same(a, b Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// Contains reports whether el is ancestor or el itself.
func Contains(ancestor, el Element) bool {
	for e := el; e != nil; e = e.Parent() {
		if Same(ancestor, e) {
			return true
		}
	}
	return false
}

// Ancestors returns up to depth ancestors of el, nearest first. A negative
// depth returns all of them.
func Ancestors(el Element, depth int) []Element {
	var out []Element
	for p := el.Parent(); p != nil && (depth < 0 || len(out) < depth); p = p.Parent() {
		out = append(out, p)
	}
	return out
}

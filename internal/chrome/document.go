// Package chrome implements page.Document, page.Renderer and page.SessionFlag
// for a live browser tab driven over the devtools protocol.
//
// Element references are keys handed out by a small runtime script installed
// in every document of the tab. Queries and measurements are synchronous
// round trips; mutations, user events, viewport changes and navigations
// arrive through a runtime binding and are posted to the loop.
package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/loop"
	"github.com/jakopako/goguide/internal/page"
)

// message is what the runtime script sends through the binding.
type message struct {
	Type  string `json:"type"`
	ID    int    `json:"id"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Document is the document loaded in a tab.
type Document struct {
	ctx    context.Context
	sched  loop.Scheduler
	logger *slog.Logger

	mu  sync.Mutex
	url string

	// owned by the loop
	observers   map[int]func()
	listeners   map[int]func(page.Event)
	viewportFns map[int]func(page.ViewportChange)
	navFns      map[int]func(string)
	nextID      int
	nextOverlay int
}

func newDocument(ctx context.Context, sched loop.Scheduler, url string) *Document {
	return &Document{
		ctx:         ctx,
		sched:       sched,
		logger:      log.LoggerFromContext(ctx).With(slog.String("component", "chrome")),
		url:         url,
		observers:   map[int]func(){},
		listeners:   map[int]func(page.Event){},
		viewportFns: map[int]func(page.ViewportChange){},
		navFns:      map[int]func(string){},
	}
}

// install adds the binding and the runtime script to the tab and starts
// forwarding page events to the loop.
func (d *Document) install() error {
	var frameID string
	err := chromedp.Run(d.ctx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(runtimeJS).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := cdppage.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			frameID = string(tree.Frame.ID)
			d.setURL(tree.Frame.URL)
			return nil
		}),
		chromedp.Evaluate(runtimeJS, nil),
	)
	if err != nil {
		return fmt.Errorf("error while installing the page runtime: %w", err)
	}
	chromedp.ListenTarget(d.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *runtime.EventBindingCalled:
			if ev.Name != bindingName {
				return
			}
			var m message
			if err := json.Unmarshal([]byte(ev.Payload), &m); err != nil {
				d.logger.Debug(fmt.Sprintf("invalid runtime message: %v", err))
				return
			}
			d.sched.Post(func() { d.dispatch(m) })
		case *cdppage.EventFrameNavigated:
			if ev.Frame.ParentID != "" {
				return
			}
			frameID = string(ev.Frame.ID)
			url := ev.Frame.URL + ev.Frame.URLFragment
			// a new document, even when it is a reload of the same url
			d.sched.Post(func() { d.navigated(url, true) })
		case *cdppage.EventNavigatedWithinDocument:
			if string(ev.FrameID) != frameID {
				return
			}
			url := ev.URL
			d.sched.Post(func() { d.navigated(url, false) })
		}
	})
	return nil
}

func (d *Document) dispatch(m message) {
	switch m.Type {
	case "mutation":
		if fn, ok := d.observers[m.ID]; ok {
			fn()
		}
	case "event":
		if fn, ok := d.listeners[m.ID]; ok {
			fn(page.Event{Kind: page.EventKind(m.Kind), Value: m.Value})
		}
	case "viewport":
		for _, fn := range snapshot(d.viewportFns) {
			fn(page.ViewportChange(m.Kind))
		}
	default:
		d.logger.Debug(fmt.Sprintf("unknown runtime message type %q", m.Type))
	}
}

// navigated handles a navigation of the main frame. A navigation within the
// document that keeps the url is ignored. A new document always counts since
// it comes with a fresh runtime.
func (d *Document) navigated(url string, newDocument bool) {
	if !newDocument && url == d.URL() {
		return
	}
	d.setURL(url)
	if newDocument {
		// subscriptions of the old document are gone
		clear(d.observers)
		clear(d.listeners)
	}
	for _, fn := range snapshot(d.navFns) {
		fn(url)
	}
}

func snapshot[F any](m map[int]F) []F {
	out := make([]F, 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func (d *Document) setURL(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
}

func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// call evaluates window.__goguide.<method>(args...) and decodes the result
// into res, which may be nil.
func (d *Document) call(res any, method string, args ...any) error {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		parts[i] = string(b)
	}
	expr := fmt.Sprintf("window.__goguide.%s(%s)", method, strings.Join(parts, ", "))
	return chromedp.Run(d.ctx, chromedp.Evaluate(expr, res))
}

func (d *Document) QuerySelectorAll(selector string) ([]page.Element, error) {
	var keys []string
	if err := d.call(&keys, "query", selector); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]page.Element, 0, len(keys))
	for _, k := range keys {
		out = append(out, &element{d: d, key: k})
	}
	return out, nil
}

func (d *Document) Body() page.Element {
	var k string
	if err := d.call(&k, "body"); err != nil || k == "" {
		return nil
	}
	return &element{d: d, key: k}
}

func (d *Document) Viewport() geometry.Viewport {
	var vp geometry.Viewport
	if err := d.call(&vp, "viewport"); err != nil {
		d.logger.Debug(fmt.Sprintf("error while reading the viewport: %v", err))
	}
	return vp
}

func (d *Document) ScrollTo(p geometry.Point) {
	if err := d.call(nil, "scrollTo", p.X, p.Y); err != nil {
		d.logger.Debug(fmt.Sprintf("error while scrolling: %v", err))
	}
}

func (d *Document) id() int {
	d.nextID++
	return d.nextID
}

func (d *Document) unsubscribe(id int) {
	delete(d.observers, id)
	delete(d.listeners, id)
	if err := d.call(nil, "unsubscribe", id); err != nil {
		d.logger.Debug(fmt.Sprintf("error while unsubscribing %d: %v", id, err))
	}
}

func (d *Document) Observe(el page.Element, opts page.ObserveOptions, fn func()) (page.Cancel, error) {
	k, err := keyOf(el)
	if err != nil {
		return nil, err
	}
	id := d.id()
	var ok bool
	o := map[string]bool{"childList": opts.ChildList, "attributes": opts.Attributes, "subtree": opts.Subtree}
	if err := d.call(&ok, "observe", id, k, o); err != nil {
		return nil, err
	}
	if !ok {
		return nil, page.ErrDetached
	}
	d.observers[id] = fn
	return once(func() { d.unsubscribe(id) }), nil
}

func (d *Document) Listen(el page.Element, kinds []page.EventKind, fn func(page.Event)) (page.Cancel, error) {
	k, err := keyOf(el)
	if err != nil {
		return nil, err
	}
	id := d.id()
	var ok bool
	if err := d.call(&ok, "listen", id, k, kinds); err != nil {
		return nil, err
	}
	if !ok {
		return nil, page.ErrDetached
	}
	d.listeners[id] = fn
	return once(func() { d.unsubscribe(id) }), nil
}

func (d *Document) OnViewportChange(fn func(page.ViewportChange)) page.Cancel {
	id := d.id()
	d.viewportFns[id] = fn
	return once(func() { delete(d.viewportFns, id) })
}

func (d *Document) OnNavigate(fn func(url string)) page.Cancel {
	id := d.id()
	d.navFns[id] = fn
	return once(func() { delete(d.navFns, id) })
}

func once(fn func()) page.Cancel {
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}

func keyOf(el page.Element) (string, error) {
	e, ok := el.(*element)
	if !ok || e == nil {
		return "", errors.New("chrome: foreign element")
	}
	return e.key, nil
}

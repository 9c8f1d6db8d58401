// Package htmldoc implements page.Document on top of a goquery document.
//
// The document is static: element geometry is supplied by the caller, and
// mutations, user events, scrolling and navigation only happen when the caller
// triggers them. Callbacks run synchronously on the caller's goroutine. It
// backs the check command and the engine tests.
package htmldoc

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/page"
	"golang.org/x/net/html"
)

type observer struct {
	node *html.Node
	opts page.ObserveOptions
	fn   func()
}

type listener struct {
	node  *html.Node
	kinds []page.EventKind
	fn    func(page.Event)
}

// Document is an in-memory page.Document.
type Document struct {
	doc         *goquery.Document
	url         string
	viewport    geometry.Viewport
	rects       map[*html.Node]func() geometry.Rect
	observers   map[int]*observer
	listeners   map[int]*listener
	viewportFns map[int]func(page.ViewportChange)
	navFns      map[int]func(string)
	nextID      int
}

// New parses the html read from r as the document found at url.
func New(url string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Document{
		doc:         doc,
		url:         url,
		viewport:    geometry.Viewport{Width: 1920, Height: 1080},
		rects:       map[*html.Node]func() geometry.Rect{},
		observers:   map[int]*observer{},
		listeners:   map[int]*listener{},
		viewportFns: map[int]func(page.ViewportChange){},
		navFns:      map[int]func(string){},
	}, nil
}

// NewFromString is New for an html string.
func NewFromString(url, s string) (*Document, error) {
	return New(url, strings.NewReader(s))
}

func (d *Document) wrap(n *html.Node) page.Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &element{d: d, n: n}
}

func nodeOf(el page.Element) (*html.Node, error) {
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, fmt.Errorf("htmldoc: foreign element %T", el)
	}
	return e.n, nil
}

func (d *Document) URL() string { return d.url }

func (d *Document) QuerySelectorAll(selector string) ([]page.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	var out []page.Element
	d.doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.wrap(s.Get(0)))
	})
	return out, nil
}

// Find returns the first element matching selector or nil. It panics on an
// invalid selector and is meant for tests and fixtures.
func (d *Document) Find(selector string) page.Element {
	els, err := d.QuerySelectorAll(selector)
	if err != nil {
		panic(err)
	}
	if len(els) == 0 {
		return nil
	}
	return els[0]
}

func (d *Document) Body() page.Element {
	return d.wrap(d.doc.Find("body").Get(0))
}

func (d *Document) Viewport() geometry.Viewport { return d.viewport }

// SetViewport changes the viewport size and scroll offset without firing events.
func (d *Document) SetViewport(vp geometry.Viewport) { d.viewport = vp }

func (d *Document) ScrollTo(p geometry.Point) {
	d.viewport.Scroll = p
	d.fireViewport(page.ViewportScroll)
}

// Resize changes the viewport size and fires a resize event.
func (d *Document) Resize(width, height float64) {
	d.viewport.Width = width
	d.viewport.Height = height
	d.fireViewport(page.ViewportResize)
}

func (d *Document) fireViewport(kind page.ViewportChange) {
	fns := make([]func(page.ViewportChange), 0, len(d.viewportFns))
	for _, fn := range d.viewportFns {
		fns = append(fns, fn)
	}
	for _, fn := range fns {
		fn(kind)
	}
}

// SetRect fixes the viewport-relative rect of el.
func (d *Document) SetRect(el page.Element, r geometry.Rect) {
	d.SetRectFunc(el, func() geometry.Rect { return r })
}

// SetRectFunc makes every measurement of el call fn, which lets tests move
// an element between polls.
func (d *Document) SetRectFunc(el page.Element, fn func() geometry.Rect) {
	n, err := nodeOf(el)
	if err != nil {
		panic(err)
	}
	d.rects[n] = fn
}

func (d *Document) Observe(el page.Element, opts page.ObserveOptions, fn func()) (page.Cancel, error) {
	n, err := nodeOf(el)
	if err != nil {
		return nil, err
	}
	id := d.id()
	d.observers[id] = &observer{node: n, opts: opts, fn: fn}
	return func() { delete(d.observers, id) }, nil
}

func (d *Document) Listen(el page.Element, kinds []page.EventKind, fn func(page.Event)) (page.Cancel, error) {
	n, err := nodeOf(el)
	if err != nil {
		return nil, err
	}
	id := d.id()
	d.listeners[id] = &listener{node: n, kinds: kinds, fn: fn}
	return func() { delete(d.listeners, id) }, nil
}

func (d *Document) OnViewportChange(fn func(page.ViewportChange)) page.Cancel {
	id := d.id()
	d.viewportFns[id] = fn
	return func() { delete(d.viewportFns, id) }
}

func (d *Document) OnNavigate(fn func(string)) page.Cancel {
	id := d.id()
	d.navFns[id] = fn
	return func() { delete(d.navFns, id) }
}

func (d *Document) id() int {
	d.nextID++
	return d.nextID
}

// Registrations returns the number of live observers, event listeners and
// viewport listeners. Navigation listeners are not counted.
func (d *Document) Registrations() int {
	return len(d.observers) + len(d.listeners) + len(d.viewportFns)
}

// Navigate changes the document url and notifies navigation listeners.
func (d *Document) Navigate(url string) {
	d.url = url
	fns := make([]func(string), 0, len(d.navFns))
	for _, fn := range d.navFns {
		fns = append(fns, fn)
	}
	for _, fn := range fns {
		fn(url)
	}
}

// Dispatch fires ev at el. Listeners on el and its ancestors receive it.
func (d *Document) Dispatch(el page.Element, ev page.Event) {
	n, err := nodeOf(el)
	if err != nil {
		panic(err)
	}
	var matched []func(page.Event)
	for _, l := range d.listeners {
		if !isAncestorOrSelf(l.node, n) {
			continue
		}
		for _, k := range l.kinds {
			if k == ev.Kind {
				matched = append(matched, l.fn)
				break
			}
		}
	}
	for _, fn := range matched {
		fn(ev)
	}
}

// AppendHTML parses fragment and appends the resulting nodes to parent.
func (d *Document) AppendHTML(parent page.Element, fragment string) error {
	p, err := nodeOf(parent)
	if err != nil {
		return err
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		p.AppendChild(n)
	}
	d.notify(p, false)
	return nil
}

// Remove detaches el from the document.
func (d *Document) Remove(el page.Element) {
	n, err := nodeOf(el)
	if err != nil {
		panic(err)
	}
	p := n.Parent
	if p == nil {
		return
	}
	p.RemoveChild(n)
	d.notify(p, false)
}

// SetAttr sets an attribute on el and notifies attribute observers.
func (d *Document) SetAttr(el page.Element, name, value string) {
	n, err := nodeOf(el)
	if err != nil {
		panic(err)
	}
	found := false
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			found = true
		}
	}
	if !found {
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	}
	d.notify(n, true)
}

func (d *Document) notify(target *html.Node, attribute bool) {
	var fns []func()
	for _, o := range d.observers {
		if attribute && !o.opts.Attributes {
			continue
		}
		if !attribute && !o.opts.ChildList {
			continue
		}
		if o.node == target || (o.opts.Subtree && isAncestorOrSelf(o.node, target)) {
			fns = append(fns, o.fn)
		}
	}
	for _, fn := range fns {
		fn()
	}
}

func isAncestorOrSelf(ancestor, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == ancestor {
			return true
		}
	}
	return false
}

type element struct {
	d *Document
	n *html.Node
}

func (e *element) Key() page.Key { return page.Key(fmt.Sprintf("%p", e.n)) }
func (e *element) Tag() string   { return strings.ToLower(e.n.Data) }

func (e *element) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *element) Text() string {
	return goquery.NewDocumentFromNode(e.n).Text()
}

func (e *element) Parent() page.Element {
	return e.d.wrap(e.n.Parent)
}

func (e *element) Rect() (geometry.Rect, error) {
	if !e.Attached() {
		return geometry.Rect{}, page.ErrDetached
	}
	if fn, ok := e.d.rects[e.n]; ok {
		return fn(), nil
	}
	return geometry.Rect{}, nil
}

func (e *element) Attached() bool {
	return isAncestorOrSelf(e.d.doc.Get(0), e.n)
}

func (e *element) Visible() bool {
	if _, hidden := e.Attr("hidden"); hidden {
		return false
	}
	style := e.style()
	if style["display"] == "none" || style["visibility"] == "hidden" {
		return false
	}
	r, err := e.Rect()
	return err == nil && r.HasSize()
}

func (e *element) ZIndex() int {
	z, err := strconv.Atoi(e.style()["z-index"])
	if err != nil {
		return 0
	}
	return z
}

func (e *element) style() map[string]string {
	out := map[string]string{}
	s, _ := e.Attr("style")
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(strings.ToLower(k))] = strings.TrimSpace(v)
	}
	return out
}

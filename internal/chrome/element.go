package chrome

import (
	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/page"
)

type elementInfo struct {
	Attached bool              `json:"attached"`
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs"`
	Text     string            `json:"text"`
	Parent   string            `json:"parent"`
	Rect     geometry.Rect     `json:"rect"`
	Visible  bool              `json:"visible"`
	Z        int               `json:"z"`
}

// element is a key into the runtime's element table. Every accessor reads
// the live node.
type element struct {
	d   *Document
	key string
}

func (e *element) info() elementInfo {
	var in elementInfo
	if err := e.d.call(&in, "info", e.key); err != nil {
		e.d.logger.Debug("error while reading element " + e.key + ": " + err.Error())
		return elementInfo{}
	}
	return in
}

func (e *element) Key() page.Key { return page.Key(e.key) }
func (e *element) Tag() string   { return e.info().Tag }

func (e *element) Attr(name string) (string, bool) {
	v, ok := e.info().Attrs[name]
	return v, ok
}

func (e *element) Text() string { return e.info().Text }

func (e *element) Parent() page.Element {
	p := e.info().Parent
	if p == "" {
		return nil
	}
	return &element{d: e.d, key: p}
}

func (e *element) Rect() (geometry.Rect, error) {
	in := e.info()
	if !in.Attached {
		return geometry.Rect{}, page.ErrDetached
	}
	return in.Rect, nil
}

func (e *element) Attached() bool { return e.info().Attached }

func (e *element) Visible() bool {
	in := e.info()
	return in.Attached && in.Visible
}

func (e *element) ZIndex() int { return e.info().Z }

package htmldoc

import (
	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/page"
)

// Renderer records mounted overlays instead of drawing them.
type Renderer struct {
	Mounted []*Overlay
	// Fail makes Mount return this error when set.
	Fail error
}

// Overlay is the recorded state of one mounted overlay.
type Overlay struct {
	Visuals    page.Visuals
	Rect       geometry.Rect
	Opacity    float64
	Text       string
	Placements int
	Removed    bool
}

func (r *Renderer) Mount(v page.Visuals) (page.Nodes, error) {
	if r.Fail != nil {
		return nil, r.Fail
	}
	o := &Overlay{Visuals: v, Opacity: 1, Text: v.Text}
	r.Mounted = append(r.Mounted, o)
	return o, nil
}

// Last returns the most recently mounted overlay or nil.
func (r *Renderer) Last() *Overlay {
	if len(r.Mounted) == 0 {
		return nil
	}
	return r.Mounted[len(r.Mounted)-1]
}

func (o *Overlay) Place(r geometry.Rect) {
	o.Rect = r
	o.Placements++
}

func (o *Overlay) SetOpacity(v float64) { o.Opacity = v }
func (o *Overlay) SetText(text string)  { o.Text = text }
func (o *Overlay) Remove()              { o.Removed = true }

package chrome

import (
	"fmt"

	"github.com/jakopako/goguide/internal/geometry"
	"github.com/jakopako/goguide/internal/page"
)

// Renderer draws overlays into the tab's document.
type Renderer struct {
	d *Document
}

type visuals struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	Cursor    bool   `json:"cursor"`
	Highlight bool   `json:"highlight"`
	Index     int    `json:"index"`
	Count     int    `json:"count"`
}

func (r *Renderer) Mount(v page.Visuals) (page.Nodes, error) {
	r.d.nextOverlay++
	id := r.d.nextOverlay
	err := r.d.call(nil, "mount", id, visuals{
		Title:     v.Title,
		Text:      v.Text,
		Cursor:    v.Cursor,
		Highlight: v.Highlight,
		Index:     v.StepIndex,
		Count:     v.StepCount,
	})
	if err != nil {
		return nil, fmt.Errorf("error while mounting overlay nodes: %w", err)
	}
	return &nodes{d: r.d, id: id}, nil
}

type nodes struct {
	d  *Document
	id int
}

func (n *nodes) run(method string, args ...any) {
	if err := n.d.call(nil, method, append([]any{n.id}, args...)...); err != nil {
		n.d.logger.Debug(fmt.Sprintf("overlay %s: %v", method, err))
	}
}

// Place receives document coordinates, which is what absolutely positioned
// nodes under the root element use.
func (n *nodes) Place(r geometry.Rect) { n.run("place", r) }
func (n *nodes) SetOpacity(o float64)  { n.run("opacity", o) }
func (n *nodes) SetText(text string)   { n.run("text", text) }
func (n *nodes) Remove()               { n.run("unmount") }

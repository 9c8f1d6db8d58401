// Package geometry contains the rectangle math used to anchor overlays to
// page elements: viewport-relative visibility checks and smooth scrolling.
package geometry

import (
	"math"
	"time"
)

// Rect is an element's bounding rectangle. Rects returned by a page are
// relative to the viewport, like getBoundingClientRect.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a coordinate or an offset.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport describes the visible part of the document.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scroll Point   `json:"scroll"`
}

func (r Rect) Bottom() float64 { return r.Top + r.Height }
func (r Rect) Right() float64  { return r.Left + r.Width }

// HasSize reports whether the rect has been laid out, ie has a non zero
// width and height.
func (r Rect) HasSize() bool {
	return r.Width > 0 && r.Height > 0
}

// Equal compares all four edges with the given tolerance in pixels.
func (r Rect) Equal(o Rect, tolerance float64) bool {
	return math.Abs(r.Top-o.Top) <= tolerance &&
		math.Abs(r.Left-o.Left) <= tolerance &&
		math.Abs(r.Width-o.Width) <= tolerance &&
		math.Abs(r.Height-o.Height) <= tolerance
}

// ToDocument converts a viewport-relative rect into absolute document
// coordinates using the scroll offset.
func (r Rect) ToDocument(scroll Point) Rect {
	return Rect{Top: r.Top + scroll.Y, Left: r.Left + scroll.X, Width: r.Width, Height: r.Height}
}

// Center returns the center point of the rect.
func (r Rect) Center() Point {
	return Point{X: r.Left + r.Width/2, Y: r.Top + r.Height/2}
}

// IsInViewport reports whether the viewport-relative rect is fully visible.
func IsInViewport(r Rect, vp Viewport) bool {
	return r.Top >= 0 && r.Left >= 0 && r.Bottom() <= vp.Height && r.Right() <= vp.Width
}

// VisibleFraction returns the share of the rect's area that lies inside
// the viewport, between 0 and 1.
func VisibleFraction(r Rect, vp Viewport) float64 {
	if !r.HasSize() {
		return 0
	}
	w := math.Min(r.Right(), vp.Width) - math.Max(r.Left, 0)
	h := math.Min(r.Bottom(), vp.Height) - math.Max(r.Top, 0)
	if w <= 0 || h <= 0 {
		return 0
	}
	return (w * h) / (r.Width * r.Height)
}

// ScrollTarget returns the document scroll position that vertically centers
// the viewport-relative rect, or aligns its top with margin when the rect is
// taller than the viewport. Horizontal scrolling only happens when the rect
// is outside the viewport horizontally.
func ScrollTarget(r Rect, vp Viewport, margin float64) Point {
	target := vp.Scroll
	if r.Height+2*margin >= vp.Height {
		target.Y = vp.Scroll.Y + r.Top - margin
	} else {
		target.Y = vp.Scroll.Y + r.Top - (vp.Height-r.Height)/2
	}
	if r.Left < 0 || r.Right() > vp.Width {
		target.X = vp.Scroll.X + r.Left - margin
	}
	target.X = math.Max(0, target.X)
	target.Y = math.Max(0, target.Y)
	return target
}

// ScrollFrames returns the intermediate scroll positions of a smooth scroll
// from one position to another over d, one per frame, eased in and out. The
// last element is always to. A zero duration yields only the destination.
func ScrollFrames(from, to Point, d, frame time.Duration) []Point {
	if d <= 0 || frame <= 0 {
		return []Point{to}
	}
	n := int(math.Ceil(float64(d) / float64(frame)))
	frames := make([]Point, 0, n)
	for i := 1; i <= n; i++ {
		t := easeInOutCubic(float64(i) / float64(n))
		frames = append(frames, Point{
			X: from.X + (to.X-from.X)*t,
			Y: from.Y + (to.Y-from.Y)*t,
		})
	}
	frames[len(frames)-1] = to
	return frames
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

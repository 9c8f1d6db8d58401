package overlay

import (
	"github.com/jakopako/goguide/internal/page"
)

var portalSelectors = []string{
	"[data-portal]",
	"[data-radix-portal]",
	"[data-headlessui-portal]",
	".ReactModalPortal",
}

var dialogSelectors = []string{
	`[role="dialog"]`,
	`[role="alertdialog"]`,
	`[aria-modal="true"]`,
	"dialog[open]",
	".modal.show",
}

// DetectModal returns the topmost visible modal or portal container of doc,
// or nil. Candidates with equal z-index resolve to the one found last.
func DetectModal(doc page.Document) page.Element {
	var best page.Element
	seen := map[page.Key]bool{}
	for _, group := range [][]string{portalSelectors, dialogSelectors} {
		for _, sel := range group {
			els, err := doc.QuerySelectorAll(sel)
			if err != nil {
				continue
			}
			for _, el := range els {
				if seen[el.Key()] || !el.Visible() {
					continue
				}
				seen[el.Key()] = true
				if best == nil || el.ZIndex() >= best.ZIndex() {
					best = el
				}
			}
		}
	}
	return best
}

// inModal reports whether el sits inside the topmost modal of doc.
func inModal(doc page.Document, el page.Element) bool {
	m := DetectModal(doc)
	return m != nil && page.Contains(m, el)
}

// firstSizedAncestor returns the nearest ancestor of el with a non-zero rect.
func firstSizedAncestor(el page.Element) page.Element {
	for _, a := range page.Ancestors(el, -1) {
		r, err := a.Rect()
		if err == nil && r.HasSize() {
			return a
		}
	}
	return nil
}

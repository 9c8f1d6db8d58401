package resolver

import (
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/page"
	"github.com/jakopako/goguide/internal/utils"
)

// Candidate is an element whose text is close to the expected text.
type Candidate struct {
	Tag      string
	Text     string
	Distance int
}

// Diagnose returns up to n interactive elements whose text is nearest to the
// expected text of in, closest first. It is used to explain a failed
// resolution and returns nothing when the descriptor has no text.
func Diagnose(doc page.Document, in flow.Interaction, n int) []Candidate {
	want := strings.TrimSpace(in.Element.Text)
	if want == "" || n <= 0 {
		return nil
	}
	sel := interactiveSelector
	if in.Element.Tag != "" {
		sel = strings.ToLower(in.Element.Tag) + ", " + sel
	}
	els, err := doc.QuerySelectorAll(sel)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []Candidate
	for _, el := range els {
		text := utils.NormalizeSpace(visibleText(el))
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, Candidate{
			Tag:      el.Tag(),
			Text:     utils.ShortenString(text, 60),
			Distance: levenshtein.ComputeDistance(strings.ToLower(want), strings.ToLower(text)),
		})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int { return a.Distance - b.Distance })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

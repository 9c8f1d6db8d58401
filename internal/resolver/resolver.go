// Package resolver locates the live element a guide step points at. It tries
// a fixed chain of strategies, from the most to the least specific, and stops
// at the first one that finds an element.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/page"
)

// ErrNotFound is returned when no strategy found the element.
var ErrNotFound = errors.New("element not found")

// Tier names the strategy that found a target.
type Tier string

const (
	TierSelector        Tier = "selector"
	TierHref            Tier = "href"
	TierTabRole         Tier = "tab-role"
	TierInteractiveText Tier = "interactive-text"
	TierFallback        Tier = "fallback-selector"
)

// Target is a resolved element. It is only valid for the step it was resolved
// for.
type Target struct {
	Element page.Element
	Tier    Tier
}

const interactiveSelector = `a, button, [role="button"], input[type="submit"]`

// tabIDRe finds a generated tab id in the id part of a selector, either
// #prefix-tab-name or [id="prefix-tab-name"].
var tabIDRe = regexp.MustCompile(`(?:#|\[id[~|^$*]?=["']?)[A-Za-z0-9_\\:-]*?-tab-([A-Za-z0-9_-]+)`)

type tier struct {
	name Tier
	find func(logger *slog.Logger, doc page.Document, in flow.Interaction) page.Element
}

// Resolver resolves interaction descriptors against a document. It only
// queries the document and never changes it.
type Resolver struct {
	tiers []tier
}

func New() *Resolver {
	return &Resolver{
		tiers: []tier{
			{TierSelector, bySelector},
			{TierHref, byHref},
			{TierTabRole, byTabRole},
			{TierInteractiveText, byInteractiveText},
			{TierFallback, byFallback},
		},
	}
}

// Resolve returns the element described by in.
func (r *Resolver) Resolve(ctx context.Context, doc page.Document, in flow.Interaction) (Target, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "resolver"))
	for _, t := range r.tiers {
		if err := ctx.Err(); err != nil {
			return Target{}, err
		}
		if el := t.find(logger, doc, in); el != nil {
			logger.Debug(fmt.Sprintf("resolved %s via %s", Describe(in), t.name))
			metricResolved.WithLabelValues(string(t.name)).Inc()
			return Target{Element: el, Tier: t.name}, nil
		}
	}
	metricNotFound.Inc()
	return Target{}, fmt.Errorf("%w: %s", ErrNotFound, Describe(in))
}

// Describe renders a short human readable form of the descriptor.
func Describe(in flow.Interaction) string {
	e := in.Element
	parts := []string{}
	if e.Selector != "" {
		parts = append(parts, fmt.Sprintf("selector=%q", e.Selector))
	}
	if e.Tag != "" {
		parts = append(parts, "tag="+e.Tag)
	}
	if e.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", e.Text))
	}
	if in.FallbackSelector != "" {
		parts = append(parts, fmt.Sprintf("fallback=%q", in.FallbackSelector))
	}
	if len(parts) == 0 {
		return "empty descriptor"
	}
	return strings.Join(parts, " ")
}

// query runs a selector and treats adapter errors, including invalid
// selectors, as no match.
func query(logger *slog.Logger, doc page.Document, selector string) []page.Element {
	els, err := doc.QuerySelectorAll(selector)
	if err != nil {
		logger.Debug(fmt.Sprintf("query %q failed: %v", selector, err))
		return nil
	}
	return els
}

func textMatches(el page.Element, want string) bool {
	return want == "" || strings.TrimSpace(el.Text()) == want
}

func firstWithText(els []page.Element, want string) page.Element {
	for _, el := range els {
		if textMatches(el, want) {
			return el
		}
	}
	return nil
}

func bySelector(logger *slog.Logger, doc page.Document, in flow.Interaction) page.Element {
	sel := in.Element.Selector
	if sel == "" {
		return nil
	}
	want := strings.TrimSpace(in.Element.Text)
	if el := firstWithText(query(logger, doc, sel), want); el != nil {
		return el
	}
	suffix, ok := tabSuffix(sel)
	if !ok {
		return nil
	}
	return firstWithText(query(logger, doc, fmt.Sprintf(`[id$="-tab-%s"]`, suffix)), want)
}

// tabSuffix returns the stable part of a generated tab id in sel.
func tabSuffix(sel string) (string, bool) {
	m := tabIDRe.FindStringSubmatch(sel)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func byHref(logger *slog.Logger, doc page.Document, in flow.Interaction) page.Element {
	if !strings.EqualFold(in.Element.Tag, "a") {
		return nil
	}
	href, ok := in.Element.Attributes["href"]
	if !ok || href == "" {
		return nil
	}
	for _, el := range query(logger, doc, "a[href]") {
		if v, _ := el.Attr("href"); v == href {
			return el
		}
	}
	return nil
}

func isTabButton(e flow.ElementDescriptor) bool {
	if !strings.EqualFold(e.Tag, "button") {
		return false
	}
	a := e.Attributes
	if a["role"] == "tab" {
		return true
	}
	_, state := a["data-state"]
	_, selected := a["aria-selected"]
	return (state || selected) && strings.Contains(a["id"], "-tab-")
}

func byTabRole(logger *slog.Logger, doc page.Document, in flow.Interaction) page.Element {
	want := strings.TrimSpace(in.Element.Text)
	if want == "" || !isTabButton(in.Element) {
		return nil
	}
	return firstWithText(query(logger, doc, `[role="tab"]`), want)
}

func byInteractiveText(logger *slog.Logger, doc page.Document, in flow.Interaction) page.Element {
	want := strings.TrimSpace(in.Element.Text)
	if want == "" {
		return nil
	}
	sel := interactiveSelector
	if in.Element.Tag != "" {
		sel = strings.ToLower(in.Element.Tag)
	}
	for _, el := range query(logger, doc, sel) {
		if strings.TrimSpace(visibleText(el)) == want {
			return el
		}
	}
	return nil
}

// visibleText is the text a user reads on el; submit inputs show their value.
func visibleText(el page.Element) string {
	if el.Tag() == "input" {
		if t, _ := el.Attr("type"); strings.EqualFold(t, "submit") {
			v, _ := el.Attr("value")
			return v
		}
	}
	return el.Text()
}

func byFallback(logger *slog.Logger, doc page.Document, in flow.Interaction) page.Element {
	if in.FallbackSelector == "" {
		return nil
	}
	els := query(logger, doc, in.FallbackSelector)
	if len(els) == 0 {
		return nil
	}
	return els[0]
}

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/page"
	"github.com/jakopako/goguide/internal/page/htmldoc"
)

const fixture = `<html><body>
<nav>
	<a id="home" href="/home">Home</a>
	<a id="docs" href="/docs/intro">Docs</a>
</nav>
<div class="toolbar">
	<button class="btn" id="cancel">Cancel</button>
	<button class="btn" id="save"> Save </button>
	<div role="button" id="more">More</div>
	<input type="submit" id="submit" value="Send">
</div>
<div role="tablist">
	<button role="tab" id="radix-:r7:-tab-settings" data-state="inactive">Settings</button>
	<button role="tab" id="radix-:r7:-tab-profile" data-state="active">Profile</button>
</div>
<span id="label">Save</span>
</body></html>`

func newDoc(t *testing.T) *htmldoc.Document {
	t.Helper()
	d, err := htmldoc.NewFromString("https://example.com/app", fixture)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return d
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		in       flow.Interaction
		wantID   string
		wantTier Tier
	}{
		{
			name:     "selector without text",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Selector: "#cancel"}},
			wantID:   "cancel",
			wantTier: TierSelector,
		},
		{
			name:     "selector checks every match for the text",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Selector: ".btn", Text: "Save"}},
			wantID:   "save",
			wantTier: TierSelector,
		},
		{
			name: "generated tab id falls back to suffix match",
			in: flow.Interaction{Element: flow.ElementDescriptor{
				Selector: `[id="radix-:r3:-tab-settings"]`,
				Text:     "Settings",
			}},
			wantID:   "radix-:r7:-tab-settings",
			wantTier: TierSelector,
		},
		{
			name: "href",
			in: flow.Interaction{Element: flow.ElementDescriptor{
				Selector:   "#gone",
				Tag:        "a",
				Attributes: flow.Attributes{"href": "/docs/intro"},
			}},
			wantID:   "docs",
			wantTier: TierHref,
		},
		{
			name: "tab role",
			in: flow.Interaction{Element: flow.ElementDescriptor{
				Tag:        "button",
				Text:       "Profile",
				Attributes: flow.Attributes{"role": "tab"},
			}},
			wantID:   "radix-:r7:-tab-profile",
			wantTier: TierTabRole,
		},
		{
			name:     "interactive text with default candidates",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Text: "More"}},
			wantID:   "more",
			wantTier: TierInteractiveText,
		},
		{
			name:     "submit input matches by value",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Text: "Send"}},
			wantID:   "submit",
			wantTier: TierInteractiveText,
		},
		{
			name:     "interactive text restricted to tag",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Tag: "span", Text: "Save"}},
			wantID:   "label",
			wantTier: TierInteractiveText,
		},
		{
			name:     "fallback selector",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Selector: "#gone"}, FallbackSelector: "nav a"},
			wantID:   "home",
			wantTier: TierFallback,
		},
		{
			name:     "invalid selector is skipped",
			in:       flow.Interaction{Element: flow.ElementDescriptor{Selector: "button[[", Text: "Cancel"}},
			wantID:   "cancel",
			wantTier: TierInteractiveText,
		},
	}

	r := New()
	doc := newDoc(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), doc, tt.in)
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if id, _ := got.Element.Attr("id"); id != tt.wantID {
				t.Errorf("Resolve() found #%s; want #%s", id, tt.wantID)
			}
			if got.Tier != tt.wantTier {
				t.Errorf("Resolve() tier = %s; want %s", got.Tier, tt.wantTier)
			}
		})
	}
}

func TestResolveSelectorTextMismatch(t *testing.T) {
	doc := newDoc(t)
	cancel := doc.Find("#cancel")
	// The selector matches #cancel only, but the text says Save: the
	// mismatched element must never be returned.
	in := flow.Interaction{Element: flow.ElementDescriptor{Selector: "#cancel", Text: "Save"}}
	got, err := New().Resolve(context.Background(), doc, in)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if page.Same(got.Element, cancel) {
		t.Fatal("Resolve() returned the text-mismatched selector match")
	}
	if got.Tier != TierInteractiveText {
		t.Errorf("Resolve() tier = %s; want %s", got.Tier, TierInteractiveText)
	}
}

func TestResolveNotFound(t *testing.T) {
	doc := newDoc(t)
	in := flow.Interaction{Element: flow.ElementDescriptor{Selector: "#nope", Text: "Publish"}}
	_, err := New().Resolve(context.Background(), doc, in)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Resolve(ctx, newDoc(t), flow.Interaction{Element: flow.ElementDescriptor{Selector: "#save"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	doc := newDoc(t)
	in := flow.Interaction{Element: flow.ElementDescriptor{Text: "Sav"}}
	got := Diagnose(doc, in, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
	if got[0].Text != "Save" || got[0].Distance != 1 {
		t.Errorf("nearest candidate = %+v; want Save at distance 1", got[0])
	}
	if Diagnose(doc, flow.Interaction{}, 3) != nil {
		t.Error("expected no candidates without expected text")
	}
}

func TestTabSuffix(t *testing.T) {
	tests := []struct {
		sel    string
		want   string
		wantOK bool
	}{
		{`[id="radix-:r3:-tab-settings"]`, "settings", true},
		{`#radix-\:r3\:-tab-account`, "account", true},
		{`div[role="tablist"] #tabs-tab-profile`, "profile", true},
		{`[id^='menu-tab-main']`, "main", true},
		{`.nav-tab-item`, "", false},
		{`#main .nav-tab-item`, "", false},
		{`#nav.main-tab-item`, "", false},
		{`button[data-name="x-tab-y"]`, "", false},
	}
	for _, tt := range tests {
		got, ok := tabSuffix(tt.sel)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("tabSuffix(%q) = %q, %t; want %q, %t", tt.sel, got, ok, tt.want, tt.wantOK)
		}
	}
}

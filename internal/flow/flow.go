// Package flow defines guide flow definitions: the ordered steps a guide walks
// through and the interaction descriptor of every step.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActionKind is the user action a step expects.
type ActionKind string

const (
	ActionClick         ActionKind = "click"
	ActionInput         ActionKind = "input"
	ActionType          ActionKind = "type"
	ActionHighlightOnly ActionKind = "highlight-only"
)

// InputLike reports whether the action is validated against a typed value.
func (a ActionKind) InputLike() bool {
	return a == ActionInput || a == ActionType
}

// Attributes is the attribute map of an element descriptor. Flow exports
// carry it either as a map or serialized as a JSON object string; both are
// accepted.
type Attributes map[string]string

func (a *Attributes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return a.fromJSONString(value.Value)
	}
	m := map[string]string{}
	if err := value.Decode(&m); err != nil {
		return err
	}
	*a = m
	return nil
}

func (a *Attributes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return a.fromJSONString(s)
	}
	m := map[string]string{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*a = m
	return nil
}

func (a *Attributes) fromJSONString(s string) error {
	if strings.TrimSpace(s) == "" {
		*a = nil
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return fmt.Errorf("attributes must be a JSON object of strings: %w", err)
	}
	*a = m
	return nil
}

// ElementDescriptor holds the hints used to locate a step's target element.
type ElementDescriptor struct {
	Selector   string     `yaml:"selector,omitempty" json:"selector,omitempty"`
	Tag        string     `yaml:"tag,omitempty" json:"tag,omitempty"`
	Text       string     `yaml:"text,omitempty" json:"text,omitempty"`
	Attributes Attributes `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Interaction is the immutable interaction descriptor of one step.
type Interaction struct {
	Element ElementDescriptor `yaml:"element" json:"element"`
	// Title and Text are shown in the guidance card.
	Title  string     `yaml:"title,omitempty" json:"title,omitempty"`
	Text   string     `yaml:"text,omitempty" json:"text,omitempty"`
	Action ActionKind `yaml:"action,omitempty" json:"action,omitempty"`
	Value  string     `yaml:"value,omitempty" json:"value,omitempty"`
	// FallbackSelector is tried last, after every element based strategy.
	FallbackSelector string `yaml:"fallbackSelector,omitempty" json:"fallbackSelector,omitempty"`
}

// ExpectedAction returns the action, defaulting to click.
func (i Interaction) ExpectedAction() ActionKind {
	if i.Action == "" {
		return ActionClick
	}
	return i.Action
}

// Step is one guide step. Steps are ordered by Position, a sparse positive
// integer, never by their index in the list.
type Step struct {
	ID              string      `yaml:"id" json:"id"`
	Position        int         `yaml:"position" json:"position"`
	URL             string      `yaml:"url,omitempty" json:"url,omitempty"`
	IsHighlightStep bool        `yaml:"isHighlightStep,omitempty" json:"isHighlightStep,omitempty"`
	Interaction     Interaction `yaml:"interaction" json:"interaction"`
}

// HighlightOnly reports whether the step only shows its target and is
// advanced explicitly instead of by a user interaction.
func (s Step) HighlightOnly() bool {
	return s.IsHighlightStep || s.Interaction.Action == ActionHighlightOnly
}

// Flow is a guide definition.
type Flow struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Load reads a flow definition in yaml or json format, validates it and
// sorts its steps by position.
func Load(path string) (*Flow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse is Load for an in-memory definition.
func Parse(b []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("error while parsing flow definition: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.Sort()
	return &f, nil
}

// Validate checks that the flow has steps with unique ids and positions.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return errors.New("flow id cannot be empty")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s has no steps", f.ID)
	}
	ids := map[string]bool{}
	positions := map[int]bool{}
	for _, s := range f.Steps {
		if s.ID == "" {
			return fmt.Errorf("flow %s: step at position %d has no id", f.ID, s.Position)
		}
		if s.Position <= 0 {
			return fmt.Errorf("flow %s: step %s needs a positive position", f.ID, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("flow %s: duplicate step id %s", f.ID, s.ID)
		}
		if positions[s.Position] {
			return fmt.Errorf("flow %s: duplicate step position %d", f.ID, s.Position)
		}
		ids[s.ID] = true
		positions[s.Position] = true
	}
	return nil
}

// Sort orders the steps by position.
func (f *Flow) Sort() {
	slices.SortFunc(f.Steps, func(a, b Step) int { return a.Position - b.Position })
}

// Step returns the step at position.
func (f *Flow) Step(position int) (Step, bool) {
	for _, s := range f.Steps {
		if s.Position == position {
			return s, true
		}
	}
	return Step{}, false
}

// Index returns the zero based rank of the step at position, or -1.
func (f *Flow) Index(position int) int {
	for i, s := range f.Steps {
		if s.Position == position {
			return i
		}
	}
	return -1
}

// FirstPending returns the step with the smallest position that is not in
// completed.
func (f *Flow) FirstPending(completed map[int]bool) (Step, bool) {
	for _, s := range f.Steps {
		if !completed[s.Position] {
			return s, true
		}
	}
	return Step{}, false
}

// NextAfter returns the step with the smallest position greater than
// position that is not in completed.
func (f *Flow) NextAfter(position int, completed map[int]bool) (Step, bool) {
	for _, s := range f.Steps {
		if s.Position > position && !completed[s.Position] {
			return s, true
		}
	}
	return Step{}, false
}

// Last reports whether position belongs to the last step.
func (f *Flow) Last(position int) bool {
	return len(f.Steps) > 0 && f.Steps[len(f.Steps)-1].Position == position
}

package sequencer

import (
	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/page"
)

type verdict int

const (
	verdictIgnore verdict = iota
	verdictValid
	verdictMismatch
)

func eventKinds(a flow.ActionKind) []page.EventKind {
	if a.InputLike() {
		return []page.EventKind{page.EventInput, page.EventChange}
	}
	return []page.EventKind{page.EventClick}
}

// validate checks ev against the interaction a step expects. Input steps
// accept any non-empty value when no value is recorded. A wrong value only
// counts as a mismatch once the field is committed with a change event, so
// typing is not interrupted.
func validate(in flow.Interaction, ev page.Event) verdict {
	a := in.ExpectedAction()
	switch {
	case a == flow.ActionHighlightOnly:
		return verdictIgnore
	case a.InputLike():
		if ev.Kind != page.EventInput && ev.Kind != page.EventChange {
			return verdictIgnore
		}
		if in.Value == "" && ev.Value != "" || in.Value != "" && ev.Value == in.Value {
			return verdictValid
		}
		if ev.Kind == page.EventChange {
			return verdictMismatch
		}
		return verdictIgnore
	default:
		if ev.Kind == page.EventClick {
			return verdictValid
		}
		return verdictIgnore
	}
}

package sequencer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/resolver"
)

// NoticeKind is the kind of message shown to the user.
type NoticeKind string

const (
	NoticeResolutionFailure  NoticeKind = "resolution_failure"
	NoticeValidationMismatch NoticeKind = "validation_mismatch"
	NoticeSkipBlocked        NoticeKind = "skip_blocked"
	NoticeCompleted          NoticeKind = "completed"
	NoticeStopped            NoticeKind = "stopped"
)

// Choice is an answer the user can give to a notice.
type Choice string

const (
	ChoiceRetry Choice = "retry"
	ChoiceSkip  Choice = "skip"
	ChoiceStop  Choice = "stop"
	ChoiceNext  Choice = "next"
)

// Notice is a message for the user. Choices is empty for notices that are
// informational only.
type Notice struct {
	Kind    NoticeKind
	FlowID  string
	Step    flow.Step
	Message string
	Choices []Choice
	// Hints are near misses for a target that was not found.
	Hints []resolver.Candidate
}

func (n Notice) String() string {
	var b strings.Builder
	b.WriteString(n.Message)
	if n.Step.ID != "" {
		fmt.Fprintf(&b, " (step %s)", n.Step.ID)
	}
	for i, h := range n.Hints {
		if i == 0 {
			b.WriteString(" Did you mean:")
		}
		fmt.Fprintf(&b, " <%s> %q", h.Tag, h.Text)
	}
	return b.String()
}

// Notifier shows notices to the user. Notify must not block; answers come
// back through Sequencer.Choose.
type Notifier interface {
	Notify(n Notice)
}

type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch n.Kind {
	case NoticeResolutionFailure, NoticeValidationMismatch:
		logger.Warn(n.String(), slog.String("notice", string(n.Kind)), slog.String("flow", n.FlowID))
	default:
		logger.Info(n.String(), slog.String("notice", string(n.Kind)), slog.String("flow", n.FlowID))
	}
}

// Package sequencer plays a flow: it decides which step belongs on the
// current page, shows it through the overlay manager, validates what the
// user does on the target, persists progress and reports it.
//
// A Sequencer is not safe for concurrent use. All methods and page callbacks
// must run on the loop goroutine.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jakopako/goguide/internal/execution"
	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/overlay"
	"github.com/jakopako/goguide/internal/page"
	"github.com/jakopako/goguide/internal/remote"
	"github.com/jakopako/goguide/internal/resolver"
	"github.com/jakopako/goguide/internal/state"
)

var (
	ErrNotActive    = errors.New("no guide is playing")
	ErrNoStep       = errors.New("no step is shown")
	ErrNotHighlight = errors.New("the shown step expects an interaction")
)

// Phase is the state of the sequencer.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhasePlaying Phase = "playing"
	// PhaseWaiting means a guide is active but no step belongs on this page.
	PhaseWaiting   Phase = "waiting"
	PhaseCompleted Phase = "completed"
)

type Resolver interface {
	Resolve(ctx context.Context, doc page.Document, in flow.Interaction) (resolver.Target, error)
}

type Tracker interface {
	Start(ctx context.Context, flowID string, session remote.SessionContext) error
	ReportStepCompletion(ctx context.Context, stepID string, position int, status execution.StepStatus) error
	ReportCompletion(ctx context.Context) error
	ReportAbandonment(ctx context.Context, reason execution.Reason, details string) error
}

type Store interface {
	Save(ctx context.Context, st state.GuideState) error
	Load(ctx context.Context, recordingID string) (state.GuideState, bool, error)
	Clear(ctx context.Context, recordingID string) error
}

// Deps are the collaborators of a Sequencer.
type Deps struct {
	Doc      page.Document
	Resolver Resolver
	Overlays *overlay.Manager
	Store    Store
	Flag     page.SessionFlag
	Tracker  Tracker
	Notifier Notifier
	Session  remote.SessionContext
}

type failure int

const (
	failureNone failure = iota
	failureResolution
	failureValidation
	failureRender
)

// Sequencer is the guide state machine.
type Sequencer struct {
	Deps
	ctx    context.Context
	logger *slog.Logger

	flow      *flow.Flow
	phase     Phase
	current   int
	completed map[int]bool
	shown     *flow.Step
	review    bool
	failure   failure
	handle    *overlay.Handle
	cancelNav page.Cancel
}

func New(d Deps) *Sequencer {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	return &Sequencer{
		Deps:      d,
		ctx:       context.Background(),
		logger:    slog.Default(),
		phase:     PhaseIdle,
		completed: map[int]bool{},
	}
}

// Snapshot is a copy of the sequencer state.
type Snapshot struct {
	Phase           Phase
	FlowID          string
	CurrentPosition int
	CompletedSteps  []int
	// Step is the shown step, nil when none is shown.
	Step   *flow.Step
	Review bool
}

func (s *Sequencer) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:           s.phase,
		CurrentPosition: s.current,
		CompletedSteps:  s.completedSteps(),
		Review:          s.review,
	}
	if s.flow != nil {
		snap.FlowID = s.flow.ID
	}
	if s.shown != nil {
		st := *s.shown
		snap.Step = &st
	}
	return snap
}

func (s *Sequencer) active() bool {
	switch s.phase {
	case PhaseLoading, PhasePlaying, PhaseWaiting:
		return true
	}
	return false
}

// Start plays f from its first step. A guide that is already playing is
// stopped first.
func (s *Sequencer) Start(ctx context.Context, f *flow.Flow) error {
	if f == nil || len(f.Steps) == 0 {
		return errors.New("cannot start an empty flow")
	}
	if s.active() {
		s.Stop(ctx, execution.ReasonUserInitiated)
	}
	s.begin(ctx, f, 0, nil)
	s.logger.Info(fmt.Sprintf("starting flow %s with %d steps", f.ID, len(f.Steps)))
	if err := s.Flag.Set(); err != nil {
		s.logger.Warn(fmt.Sprintf("error while setting the session flag: %v", err))
	}
	s.persist()
	s.activate(s.Doc.URL(), false)
	return nil
}

// Restore resumes f from persisted progress. It returns false when there is
// nothing to resume: no valid saved state, a state that is not playing, or a
// missing session flag, which means the tab that played the guide was
// closed.
func (s *Sequencer) Restore(ctx context.Context, f *flow.Flow) (bool, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "sequencer"), slog.String("flow", f.ID))
	st, ok, err := s.Store.Load(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("error while loading state of %s: %w", f.ID, err)
	}
	if !ok {
		return false, nil
	}
	present, err := s.Flag.Present()
	if err != nil {
		logger.Warn(fmt.Sprintf("error while reading the session flag: %v", err))
	}
	if st.IsPlaying && !present {
		logger.Info("session flag missing, the previous session ended")
		st.IsPlaying = false
		if err := s.Store.Save(ctx, st); err != nil {
			logger.Warn(fmt.Sprintf("error while saving state: %v", err))
		}
	}
	if !st.IsPlaying {
		return false, nil
	}
	if s.active() {
		s.Stop(ctx, execution.ReasonUserInitiated)
	}
	s.begin(ctx, f, st.CurrentPosition, st.CompletedSteps)
	s.logger.Info(fmt.Sprintf("restoring flow %s at position %d", f.ID, st.CurrentPosition))
	s.activate(s.Doc.URL(), false)
	return true, nil
}

func (s *Sequencer) begin(ctx context.Context, f *flow.Flow, current int, completed []int) {
	s.ctx = ctx
	s.logger = log.LoggerFromContext(ctx).With(slog.String("component", "sequencer"), slog.String("flow", f.ID))
	s.flow = f
	s.phase = PhaseLoading
	s.current = current
	s.completed = map[int]bool{}
	for _, p := range completed {
		s.completed[p] = true
	}
	s.shown = nil
	s.review = false
	s.failure = failureNone
	if err := s.Tracker.Start(ctx, f.ID, s.Session); err != nil {
		s.logger.Warn(fmt.Sprintf("error while starting execution: %v", err))
	}
	s.cancelNav = s.Doc.OnNavigate(func(url string) { s.HandleNavigation(s.ctx, url) })
}

// HandleNavigation picks the step for the page at url.
func (s *Sequencer) HandleNavigation(ctx context.Context, url string) {
	if !s.active() {
		return
	}
	s.logger.Debug(fmt.Sprintf("navigated to %s", url))
	s.activate(url, true)
}

// Stop abandons the guide. An empty reason is derived from the last failure:
// element_not_found after a resolution failure, sdk_error after a rendering
// failure, user_initiated otherwise.
func (s *Sequencer) Stop(ctx context.Context, reason execution.Reason) error {
	if !s.active() {
		return ErrNotActive
	}
	if reason == "" {
		switch s.failure {
		case failureResolution:
			reason = execution.ReasonElementNotFound
		case failureRender:
			reason = execution.ReasonSDKError
		default:
			reason = execution.ReasonUserInitiated
		}
	}
	reason = reason.Normalize()
	details := "stopped"
	if s.shown != nil {
		details = fmt.Sprintf("stopped at step %s (position %d)", s.shown.ID, s.shown.Position)
	}
	s.logger.Info(fmt.Sprintf("stopping flow %s: %s", s.flow.ID, reason))
	if err := s.Tracker.ReportAbandonment(ctx, reason, details); err != nil {
		s.logger.Warn(fmt.Sprintf("error while reporting abandonment: %v", err))
	}
	s.end(ctx)
	s.phase = PhaseIdle
	s.current = 0
	s.completed = map[int]bool{}
	s.Notifier.Notify(Notice{Kind: NoticeStopped, FlowID: s.flow.ID, Message: fmt.Sprintf("guide stopped (%s)", reason)})
	return nil
}

// end releases everything a running guide holds.
func (s *Sequencer) end(ctx context.Context) {
	s.detach()
	s.shown = nil
	s.review = false
	s.failure = failureNone
	if s.cancelNav != nil {
		s.cancelNav()
		s.cancelNav = nil
	}
	if err := s.Store.Clear(ctx, s.flow.ID); err != nil {
		s.logger.Warn(fmt.Sprintf("error while clearing state: %v", err))
	}
	if err := s.Flag.Clear(); err != nil {
		s.logger.Warn(fmt.Sprintf("error while clearing the session flag: %v", err))
	}
}

// Retry shows the current step again, resolving its target anew.
func (s *Sequencer) Retry(ctx context.Context) error {
	if !s.active() {
		return ErrNotActive
	}
	if s.shown == nil {
		s.activate(s.Doc.URL(), false)
		return nil
	}
	s.show(*s.shown, s.review)
	return nil
}

// Skip records the shown step as skipped and moves on.
func (s *Sequencer) Skip(ctx context.Context) error {
	if !s.active() {
		return ErrNotActive
	}
	if s.shown == nil {
		return ErrNoStep
	}
	if s.review {
		s.resume()
		return nil
	}
	s.complete(*s.shown, execution.StepSkipped)
	return nil
}

// Next advances past a highlight-only step.
func (s *Sequencer) Next(ctx context.Context) error {
	if !s.active() {
		return ErrNotActive
	}
	if s.shown == nil {
		return ErrNoStep
	}
	if !s.shown.HighlightOnly() {
		return ErrNotHighlight
	}
	s.complete(*s.shown, execution.StepCompleted)
	return nil
}

// Choose applies a choice offered by a notice.
func (s *Sequencer) Choose(ctx context.Context, c Choice) error {
	switch c {
	case ChoiceRetry:
		return s.Retry(ctx)
	case ChoiceSkip:
		return s.Skip(ctx)
	case ChoiceStop:
		return s.Stop(ctx, "")
	case ChoiceNext:
		return s.Next(ctx)
	default:
		return fmt.Errorf("unknown choice %q", c)
	}
}

// activate shows the step that belongs on the page at url. Completed steps
// are only shown again, in review mode, when the user navigated back to
// them.
func (s *Sequencer) activate(url string, navigated bool) {
	s.detach()
	s.shown = nil
	s.review = false
	expected, ok := s.flow.NextAfter(s.current, s.completed)
	if !ok {
		expected, ok = s.flow.FirstPending(s.completed)
	}
	if !ok {
		s.finish()
		return
	}
	if MatchURL(expected.URL, url) {
		s.show(expected, false)
		return
	}
	if st, ok := s.completedOn(url, expected.Position); ok && navigated {
		s.logger.Debug(fmt.Sprintf("showing completed step %s again", st.ID))
		s.show(st, true)
		return
	}
	s.phase = PhaseWaiting
	if st, ok := s.pendingBeyond(url, expected.Position); ok {
		metricSkipBlocked.Inc()
		s.logger.Info(fmt.Sprintf("refusing step %s, step %s is not done yet", st.ID, expected.ID))
		s.Notifier.Notify(Notice{
			Kind:    NoticeSkipBlocked,
			FlowID:  s.flow.ID,
			Step:    st,
			Message: fmt.Sprintf("Please complete step %d first.", s.flow.Index(expected.Position)+1),
		})
	}
}

// completedOn returns the latest completed step before position whose page
// is url.
func (s *Sequencer) completedOn(url string, position int) (flow.Step, bool) {
	for i := len(s.flow.Steps) - 1; i >= 0; i-- {
		st := s.flow.Steps[i]
		if st.Position < position && s.completed[st.Position] && st.URL != "" && MatchURL(st.URL, url) {
			return st, true
		}
	}
	return flow.Step{}, false
}

// pendingBeyond returns the first uncompleted step after position whose page
// is url.
func (s *Sequencer) pendingBeyond(url string, position int) (flow.Step, bool) {
	for _, st := range s.flow.Steps {
		if st.Position > position && !s.completed[st.Position] && st.URL != "" && MatchURL(st.URL, url) {
			return st, true
		}
	}
	return flow.Step{}, false
}

func (s *Sequencer) show(st flow.Step, review bool) {
	s.detach()
	s.shown = &st
	s.review = review
	s.failure = failureNone
	s.phase = PhasePlaying

	target, err := s.Resolver.Resolve(s.ctx, s.Doc, st.Interaction)
	if err != nil {
		s.failure = failureResolution
		hints := resolver.Diagnose(s.Doc, st.Interaction, 3)
		s.logger.Warn(fmt.Sprintf("step %s: %v", st.ID, err))
		s.Notifier.Notify(Notice{
			Kind:    NoticeResolutionFailure,
			FlowID:  s.flow.ID,
			Step:    st,
			Message: "The element for this step could not be found.",
			Choices: []Choice{ChoiceRetry, ChoiceSkip, ChoiceStop},
			Hints:   hints,
		})
		return
	}

	v := page.Visuals{
		Title:     st.Interaction.Title,
		Text:      st.Interaction.Text,
		Cursor:    !st.HighlightOnly(),
		Highlight: true,
		StepIndex: s.flow.Index(st.Position),
		StepCount: len(s.flow.Steps),
	}
	h, err := s.Overlays.Attach(s.ctx, target.Element, v, overlay.AttachOptions{
		Reresolve: func(ctx context.Context) (page.Element, error) {
			t, err := s.Resolver.Resolve(ctx, s.Doc, st.Interaction)
			return t.Element, err
		},
	})
	if err != nil {
		s.failure = failureRender
		s.logger.Error(fmt.Sprintf("step %s: %v", st.ID, err))
		s.Notifier.Notify(Notice{
			Kind:    NoticeResolutionFailure,
			FlowID:  s.flow.ID,
			Step:    st,
			Message: "The guide could not be shown on this page.",
			Choices: []Choice{ChoiceRetry, ChoiceSkip, ChoiceStop},
		})
		return
	}
	s.handle = h
	if st.HighlightOnly() {
		return
	}
	kinds := eventKinds(st.Interaction.ExpectedAction())
	if err := h.Listen(kinds, func(ev page.Event) { s.onEvent(st, ev) }); err != nil {
		s.logger.Warn(fmt.Sprintf("step %s: %v", st.ID, err))
	}
}

func (s *Sequencer) onEvent(st flow.Step, ev page.Event) {
	if s.phase != PhasePlaying || s.shown == nil || s.shown.Position != st.Position {
		return
	}
	switch validate(st.Interaction, ev) {
	case verdictValid:
		s.complete(st, execution.StepCompleted)
	case verdictMismatch:
		s.failure = failureValidation
		metricMismatches.Inc()
		s.Notifier.Notify(Notice{
			Kind:    NoticeValidationMismatch,
			FlowID:  s.flow.ID,
			Step:    st,
			Message: fmt.Sprintf("Expected %q but got %q.", st.Interaction.Value, ev.Value),
			Choices: []Choice{ChoiceRetry, ChoiceSkip, ChoiceStop},
		})
	}
}

func (s *Sequencer) complete(st flow.Step, status execution.StepStatus) {
	if s.review {
		// completed steps stay completed; going through one again changes
		// nothing
		s.resume()
		return
	}
	s.completed[st.Position] = true
	s.current = st.Position
	s.persist()
	metricSteps.WithLabelValues(string(status)).Inc()
	s.logger.Info(fmt.Sprintf("step %s %s", st.ID, status))
	if err := s.Tracker.ReportStepCompletion(s.ctx, st.ID, st.Position, status); err != nil {
		s.logger.Warn(fmt.Sprintf("error while reporting step %s: %v", st.ID, err))
	}
	s.activate(s.Doc.URL(), false)
}

// resume leaves review mode for the first pending step.
func (s *Sequencer) resume() {
	s.detach()
	s.shown = nil
	s.review = false
	next, ok := s.flow.FirstPending(s.completed)
	if !ok {
		s.finish()
		return
	}
	if MatchURL(next.URL, s.Doc.URL()) {
		s.show(next, false)
		return
	}
	s.phase = PhaseWaiting
}

func (s *Sequencer) finish() {
	s.logger.Info(fmt.Sprintf("flow %s completed", s.flow.ID))
	if err := s.Tracker.ReportCompletion(s.ctx); err != nil {
		s.logger.Warn(fmt.Sprintf("error while reporting completion: %v", err))
	}
	s.end(s.ctx)
	s.phase = PhaseCompleted
	s.Notifier.Notify(Notice{Kind: NoticeCompleted, FlowID: s.flow.ID, Message: "All steps done."})
}

func (s *Sequencer) detach() {
	if s.handle != nil {
		s.Overlays.Detach(s.handle)
		s.handle = nil
	}
}

func (s *Sequencer) completedSteps() []int {
	out := make([]int, 0, len(s.completed))
	for p := range s.completed {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (s *Sequencer) persist() {
	st := state.GuideState{
		RecordingID:     s.flow.ID,
		CurrentPosition: s.current,
		CompletedSteps:  s.completedSteps(),
		IsPlaying:       s.active(),
	}
	if err := s.Store.Save(s.ctx, st); err != nil {
		s.logger.Warn(fmt.Sprintf("error while saving state: %v", err))
	}
}

// Package execution reports the progress of a played flow to the remote
// collaborator. Reports never block the guide: they are queued and sent in
// submission order by a single worker goroutine, retried a bounded number of
// times and dropped with a warning when the remote keeps failing.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/remote"
	"golang.org/x/time/rate"
)

// Reason is why a flow was abandoned.
type Reason string

const (
	ReasonUserInitiated   Reason = "user_initiated"
	ReasonElementNotFound Reason = "element_not_found"
	ReasonSDKError        Reason = "sdk_error"
	ReasonNavigation      Reason = "navigation"
)

var reasonStatus = map[Reason]string{
	ReasonUserInitiated:   "abandoned",
	ReasonElementNotFound: "element_not_found",
	ReasonSDKError:        "error",
	ReasonNavigation:      "navigated_away",
}

// Normalize maps unknown reasons to ReasonUserInitiated.
func (r Reason) Normalize() Reason {
	if _, ok := reasonStatus[r]; ok {
		return r
	}
	return ReasonUserInitiated
}

// Status returns the remote status code of the reason.
func (r Reason) Status() string {
	return reasonStatus[r.Normalize()]
}

// StepStatus is the outcome of a step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
)

// Config holds the retry and replay settings.
type Config struct {
	MaxRetries  int           `yaml:"max_retries" env-default:"3"`
	RetryDelay  time.Duration `yaml:"retry_delay" env-default:"1s"`
	ReplayDelay time.Duration `yaml:"replay_delay" env-default:"100ms"`
}

type opKind string

const (
	opStart    opKind = "start"
	opStep     opKind = "step"
	opComplete opKind = "complete"
	opAbandon  opKind = "abandon"
	opBarrier  opKind = "barrier"
)

type op struct {
	kind    opKind
	ctx     context.Context
	flowID  string
	session remote.SessionContext
	update  remote.ProgressUpdate
	abandon remote.Abandonment
	replay  bool
	done    chan struct{}
	// gen is the run the op belongs to, counted by Start.
	gen int
}

// key identifies the logical event the op reports, for retry counting.
func (o op) key() string {
	switch o.kind {
	case opStep:
		return fmt.Sprintf("%s:%s", o.kind, o.update.StepID)
	case opStart:
		return fmt.Sprintf("%s:%s", o.kind, o.flowID)
	default:
		return string(o.kind)
	}
}

// Tracker is the flow execution record of the current run.
type Tracker struct {
	remote remote.Remote
	cfg    Config

	mu           sync.Mutex
	cond         *sync.Cond
	queue        []op
	pending      []op
	executionID  string
	gen          int
	execGen      int
	failedGen    int
	lastStepID   string
	lastPosition int
	retries      map[string]int
	limiter      *rate.Limiter
	closed       bool
	quit         chan struct{}
	stopped      chan struct{}
}

// New starts the worker of a tracker reporting to r.
func New(r remote.Remote, cfg Config) *Tracker {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	t := &Tracker{
		remote:  r,
		cfg:     cfg,
		retries: map[string]int{},
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.run()
	return t
}

// Start begins a new execution of flowID. The execution id arrives
// asynchronously; reports made until then are queued.
func (t *Tracker) Start(ctx context.Context, flowID string, session remote.SessionContext) error {
	return t.submit(op{kind: opStart, ctx: ctx, flowID: flowID, session: session}, false)
}

// ExecutionID returns the id of the running execution or "".
func (t *Tracker) ExecutionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executionID
}

func (t *Tracker) ReportStepCompletion(ctx context.Context, stepID string, position int, status StepStatus) error {
	return t.submit(op{kind: opStep, ctx: ctx, update: remote.ProgressUpdate{StepID: stepID, Position: position, Status: string(status)}}, true)
}

func (t *Tracker) ReportCompletion(ctx context.Context) error {
	return t.submit(op{kind: opComplete, ctx: ctx}, true)
}

func (t *Tracker) ReportAbandonment(ctx context.Context, reason Reason, details string) error {
	return t.submit(op{kind: opAbandon, ctx: ctx, abandon: remote.Abandonment{Status: reason.Status(), Details: details}}, true)
}

// Wait blocks until every report submitted so far was sent or dropped.
// Reports still waiting for an execution id are not waited for.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	if err := t.submit(op{kind: opBarrier, ctx: ctx, done: done}, false); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends what is queued and stops the worker. Retry delays are cut
// short.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.quit)
	t.cond.Broadcast()
	t.mu.Unlock()
	<-t.stopped
	return nil
}

func (t *Tracker) submit(o op, needsID bool) error {
	o.ctx = context.WithoutCancel(o.ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("execution tracker closed")
	}
	if o.kind == opStart {
		t.gen++
	}
	o.gen = t.gen
	if needsID && (t.executionID == "" || t.execGen != o.gen) {
		if t.failedGen == o.gen {
			log.LoggerFromContext(o.ctx).Warn(fmt.Sprintf("execution was not started, dropping %s report", o.kind),
				slog.String("component", "execution"))
			return nil
		}
		// accepted optimistically, replayed once the execution id exists
		t.pending = append(t.pending, o)
		return nil
	}
	t.queue = append(t.queue, o)
	t.cond.Signal()
	return nil
}

func (t *Tracker) run() {
	defer close(t.stopped)
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.cond.Wait()
		}
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		o := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()
		t.process(o)
	}
}

func (t *Tracker) process(o op) {
	logger := log.LoggerFromContext(o.ctx).With(slog.String("component", "execution"))
	switch o.kind {
	case opBarrier:
		close(o.done)
		return
	case opStart:
		var id string
		ok := t.retry(logger, o, func() error {
			var err error
			id, err = t.remote.StartExecution(o.ctx, o.flowID, o.session)
			return err
		})
		t.mu.Lock()
		defer t.mu.Unlock()
		if !ok {
			t.failedGen = o.gen
			t.resetLocked()
			dropped := t.dropPendingLocked(o.gen)
			logger.Warn(fmt.Sprintf("dropping %d queued reports of flow %s", dropped, o.flowID))
			return
		}
		t.resetLocked()
		t.executionID = id
		t.execGen = o.gen
		t.limiter = t.replayLimiter()
		t.dropPendingLocked(o.gen - 1)
		var replay, later []op
		for _, p := range t.pending {
			if p.gen == o.gen {
				p.replay = true
				replay = append(replay, p)
			} else {
				later = append(later, p)
			}
		}
		t.queue = append(replay, t.queue...)
		t.pending = later
		logger.Info(fmt.Sprintf("execution %s of flow %s started", id, o.flowID))
		return
	}

	t.mu.Lock()
	id := t.executionID
	if t.execGen != o.gen {
		id = ""
	}
	limiter := t.limiter
	if o.kind == opAbandon {
		o.abandon.LastStepID = t.lastStepID
		o.abandon.LastPosition = t.lastPosition
	}
	t.mu.Unlock()
	if id == "" {
		logger.Warn(fmt.Sprintf("no execution running, dropping %s report", o.kind))
		return
	}
	if o.replay && limiter != nil {
		ctx, cancel := t.quitContext(o.ctx)
		if err := limiter.Wait(ctx); err != nil {
			logger.Debug(fmt.Sprintf("replay delay cut short: %v", err))
		}
		cancel()
	}

	var send func() error
	switch o.kind {
	case opStep:
		send = func() error { return t.remote.UpdateProgress(o.ctx, id, o.update) }
	case opComplete:
		send = func() error { return t.remote.CompleteExecution(o.ctx, id) }
	case opAbandon:
		send = func() error { return t.remote.AbandonExecution(o.ctx, id, o.abandon) }
	}
	ok := t.retry(logger, o, send)
	metricReports.WithLabelValues(string(o.kind), outcome(ok)).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	switch o.kind {
	case opStep:
		if ok {
			t.lastStepID = o.update.StepID
			t.lastPosition = o.update.Position
		}
	case opComplete, opAbandon:
		logger.Debug(fmt.Sprintf("execution %s finished with %s", id, o.kind))
		t.resetLocked()
	}
}

// retry calls fn until it succeeds or the retry budget of the op's logical
// event is used up.
func (t *Tracker) retry(logger *slog.Logger, o op, fn func() error) bool {
	key := o.key()
	for {
		err := fn()
		t.mu.Lock()
		if err == nil {
			delete(t.retries, key)
			t.mu.Unlock()
			return true
		}
		t.retries[key]++
		n := t.retries[key]
		if n > t.cfg.MaxRetries {
			delete(t.retries, key)
			t.mu.Unlock()
			logger.Warn(fmt.Sprintf("giving up on %s after %d attempts: %v", key, n, err))
			return false
		}
		t.mu.Unlock()
		logger.Debug(fmt.Sprintf("%s failed (attempt %d): %v", key, n, err))
		select {
		case <-time.After(t.cfg.RetryDelay):
		case <-t.quit:
		}
	}
}

func (t *Tracker) replayLimiter() *rate.Limiter {
	if t.cfg.ReplayDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(t.cfg.ReplayDelay), 1)
}

// quitContext derives a context that is also cancelled when the tracker
// closes.
func (t *Tracker) quitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-t.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// resetLocked forgets the running execution. Reports of later runs that
// wait for their execution id stay pending.
func (t *Tracker) resetLocked() {
	t.executionID = ""
	t.dropPendingLocked(t.execGen)
	t.lastStepID = ""
	t.lastPosition = 0
	t.limiter = nil
	clear(t.retries)
}

// dropPendingLocked removes the pending reports of runs up to gen and
// returns how many were removed.
func (t *Tracker) dropPendingLocked(gen int) int {
	n := len(t.pending)
	t.pending = slices.DeleteFunc(t.pending, func(o op) bool { return o.gen <= gen })
	return n - len(t.pending)
}

func outcome(ok bool) string {
	if ok {
		return "sent"
	}
	return "dropped"
}

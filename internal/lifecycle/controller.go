// Package lifecycle drives the messaging core's four perform loops in
// step with the application lifecycle.
//
// A Controller is either Stopped or Running. Start launches one IMAP, one
// SMTP, one Sentbox and one MoveBox loop, each calling its blocking Core
// operation until the run is cancelled. Stop cancels the run and wakes
// the IMAP loop without waiting for the loops to exit; Wait is the join.
// While the application is backgrounded a watchdog polls the remaining
// background time and stops the loops before it runs out.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	applog "github.com/nhle/mailsync/internal/log"
	"github.com/nhle/mailsync/internal/model"
)

// State is the controller's run state.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Core is the surface of the messaging core the controller drives.
//
// The perform operations block until there is work to do, a wake signal
// arrives, or ctx is cancelled, and they absorb their own errors.
type Core interface {
	PerformIMAP(ctx context.Context)
	PerformSMTP(ctx context.Context)
	PerformSentbox(ctx context.Context)
	PerformMoveBox(ctx context.Context)

	// InterruptIdle wakes a PerformIMAP call blocked waiting for mail.
	InterruptIdle()

	// MaybeNetwork tells the core connectivity may have changed. It may
	// block for several seconds.
	MaybeNetwork(ctx context.Context)
}

// Recorder persists lifecycle events. Failures are logged and ignored.
type Recorder interface {
	RecordEvent(ctx context.Context, ev model.LifecycleEvent) error
}

// Loop names, used in logs.
const (
	LoopIMAP    = "imap"
	LoopSMTP    = "smtp"
	LoopSentbox = "sentbox"
	LoopMoveBox = "movebox"
)

const (
	DefaultWatchdogDelay   = 3 * time.Second
	DefaultSafetyThreshold = 10 * time.Second
)

// ErrStopped is the cause a run's loops exit with after Stop.
var ErrStopped = errors.New("perform loops stopped")

// run is one Start..drain cycle of the four loops. Each loop returns the
// run's cancellation cause, so group.Wait reports why the run ended.
type run struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	group  errgroup.Group
	done   chan struct{}
}

// Controller starts and stops the perform loops.
type Controller struct {
	core     Core
	budget   BudgetProvider
	recorder Recorder
	journal  *journal
	logger   *slog.Logger

	watchdogDelay   time.Duration
	safetyThreshold time.Duration

	state      atomic.Int32
	foreground atomic.Bool

	// base outlives runs and is cancelled by Terminate.
	base       context.Context
	baseCancel context.CancelFunc

	mu           sync.Mutex
	current      *run
	watchdogStop context.CancelFunc
	reachable    *bool
	hints        sync.WaitGroup
	terminated   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithRecorder sets the journal the controller writes events to. Events
// are written on a separate goroutine.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithWatchdogDelay sets how often the background watchdog polls.
func WithWatchdogDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.watchdogDelay = d
		}
	}
}

// WithSafetyThreshold sets the remaining background time under which the
// watchdog stops the loops.
func WithSafetyThreshold(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.safetyThreshold = d
		}
	}
}

// New creates a stopped, foregrounded Controller.
func New(core Core, budget BudgetProvider, opts ...Option) *Controller {
	c := &Controller{
		core:            core,
		budget:          budget,
		logger:          applog.Discard(),
		watchdogDelay:   DefaultWatchdogDelay,
		safetyThreshold: DefaultSafetyThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "lifecycle")
	if c.recorder != nil {
		c.journal = newJournal(c.recorder, c.logger)
	}
	c.base, c.baseCancel = context.WithCancel(context.Background())
	c.foreground.Store(true)
	return c
}

// State returns the current run state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start launches the four perform loops. It returns false without doing
// anything if the loops are already running or the controller has been
// terminated.
//
// completion, if non-nil, is called by the IMAP loop when it exits while
// still holding the background budget.
func (c *Controller) Start(completion func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return false
	}
	if !c.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return false
	}

	c.logger.Info("---- start ----")
	c.record(model.EventStart, "")

	prev := c.current
	ctx, cancel := context.WithCancelCause(c.base)
	r := &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	c.current = r

	r.group.Go(func() error {
		// A previous run may still be draining a blocked perform call.
		if prev != nil {
			<-prev.done
		}
		c.imapLoop(ctx, completion)
		return context.Cause(ctx)
	})
	c.launch(r, prev, LoopSMTP, c.core.PerformSMTP)
	c.launch(r, prev, LoopSentbox, c.core.PerformSentbox)
	c.launch(r, prev, LoopMoveBox, c.core.PerformMoveBox)

	go func() {
		cause := r.group.Wait()
		c.logger.Debug("perform loops drained", "cause", cause)
		c.record(model.EventDrained, causeDetail(cause))
		close(r.done)
	}()

	return true
}

func (c *Controller) launch(r *run, prev *run, name string, perform func(context.Context)) {
	r.group.Go(func() error {
		if prev != nil {
			<-prev.done
		}
		c.loop(r.ctx, name, perform)
		return context.Cause(r.ctx)
	})
}

// loop calls perform until ctx is cancelled.
func (c *Controller) loop(ctx context.Context, name string, perform func(context.Context)) {
	logger := c.logger.With("loop", name)
	logger.Debug("perform loop entered")
	for ctx.Err() == nil {
		perform(ctx)
		logger.Log(ctx, applog.LevelTrace, "perform returned")
	}
	logger.Debug("perform loop exited")
}

// imapLoop is the only loop holding a background budget.
func (c *Controller) imapLoop(ctx context.Context, completion func()) {
	token := c.beginBudget()
	c.loop(ctx, LoopIMAP, c.core.PerformIMAP)
	if token == nil {
		return
	}
	if token.release() {
		if completion != nil {
			completion()
		}
		c.logger.Info("background task ended")
		c.record(model.EventBudgetEnd, "")
	}
}

// Stop cancels the running loops and interrupts a blocked IMAP call.
// It does not wait for the loops to exit. Stop returns false when the
// controller was already stopped.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked("")
}

func (c *Controller) stopLocked(reason string) bool {
	if !c.state.CompareAndSwap(int32(Running), int32(Stopped)) {
		return false
	}

	c.logger.Info("---- stop ----", "reason", reason)
	c.record(model.EventStop, reason)

	if c.current != nil {
		cause := ErrStopped
		if reason != "" {
			cause = fmt.Errorf("%w: %s", ErrStopped, reason)
		}
		c.current.cancel(cause)
	}
	c.core.InterruptIdle()
	return true
}

// Wait blocks until the loops of the most recent run have exited or ctx
// is done. It returns immediately if no run was ever started.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for perform loops: %w", ctx.Err())
	}
}

// EnterForeground handles the application returning to the foreground:
// the watchdog is disarmed and the loops are started.
func (c *Controller) EnterForeground() {
	c.logger.Info("---- foreground ----")
	c.foreground.Store(true)
	c.record(model.EventForeground, "")

	c.mu.Lock()
	c.disarmWatchdogLocked()
	c.mu.Unlock()

	c.Start(nil)
}

// EnterBackground handles the application moving to the background by
// arming the budget watchdog. The loops keep running until the watchdog
// decides otherwise.
func (c *Controller) EnterBackground() {
	c.logger.Info("---- background ----")
	c.foreground.Store(false)
	c.record(model.EventBackground, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.armWatchdogLocked()
}

// BackgroundFetch starts the loops on behalf of a platform background
// fetch. completion goes to Start; if the loops were already running it
// is called immediately instead.
func (c *Controller) BackgroundFetch(completion func()) {
	c.logger.Info("---- background-fetch ----")
	c.record(model.EventFetch, "")

	if !c.Start(completion) && completion != nil {
		completion()
	}

	// A fetch while backgrounded runs on borrowed time as well.
	if !c.foreground.Load() {
		c.mu.Lock()
		c.armWatchdogLocked()
		c.mu.Unlock()
	}
}

// Terminate stops the loops for good and waits, bounded by ctx, for them
// and any in-flight network hints to finish.
func (c *Controller) Terminate(ctx context.Context) error {
	c.logger.Info("---- terminate ----")
	c.record(model.EventTerminate, "")

	c.mu.Lock()
	c.stopLocked("terminate")
	c.disarmWatchdogLocked()
	c.terminated = true
	c.mu.Unlock()

	waitErr := c.Wait(ctx)
	c.baseCancel()
	if c.journal != nil {
		if err := c.journal.flush(ctx); err != nil && waitErr == nil {
			waitErr = err
		}
	}

	hintsDone := make(chan struct{})
	go func() {
		c.hints.Wait()
		close(hintsDone)
	}()
	select {
	case <-hintsDone:
	case <-ctx.Done():
		if waitErr == nil {
			waitErr = fmt.Errorf("waiting for network hints: %w", ctx.Err())
		}
	}
	return waitErr
}

// record queues an event for the journal. It never blocks, so it is safe
// to call with c.mu held.
func (c *Controller) record(kind model.EventKind, detail string) {
	if c.journal == nil {
		return
	}
	c.journal.add(model.LifecycleEvent{Kind: kind, Detail: detail, CreatedAt: time.Now()})
}

func causeDetail(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return err.Error()
}

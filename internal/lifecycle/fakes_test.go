package lifecycle_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhle/mailsync/internal/lifecycle"
	"github.com/nhle/mailsync/internal/model"
)

// fakeCore blocks every perform call until its context is cancelled.
// When imapIgnoresCtx is set, PerformIMAP only returns on InterruptIdle,
// like a core sleeping in IDLE. When gate is non-nil, PerformIMAP blocks
// until gate is closed regardless of anything else.
type fakeCore struct {
	imapIgnoresCtx bool
	gate           chan struct{}
	networkGate    chan struct{}

	mu        sync.Mutex
	calls     map[string]int
	inFlight  map[string]int
	maxFlight map[string]int

	wake       chan struct{}
	interrupts atomic.Int32
	hints      atomic.Int32
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		calls:     make(map[string]int),
		inFlight:  make(map[string]int),
		maxFlight: make(map[string]int),
		wake:      make(chan struct{}, 1),
	}
}

func (f *fakeCore) enter(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.inFlight[name]++
	if f.inFlight[name] > f.maxFlight[name] {
		f.maxFlight[name] = f.inFlight[name]
	}
}

func (f *fakeCore) exit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[name]--
}

func (f *fakeCore) block(ctx context.Context, name string) {
	f.enter(name)
	defer f.exit(name)
	<-ctx.Done()
}

func (f *fakeCore) PerformIMAP(ctx context.Context) {
	f.enter(lifecycle.LoopIMAP)
	defer f.exit(lifecycle.LoopIMAP)

	switch {
	case f.gate != nil:
		<-f.gate
	case f.imapIgnoresCtx:
		<-f.wake
	default:
		select {
		case <-ctx.Done():
		case <-f.wake:
		}
	}
}

func (f *fakeCore) PerformSMTP(ctx context.Context)    { f.block(ctx, lifecycle.LoopSMTP) }
func (f *fakeCore) PerformSentbox(ctx context.Context) { f.block(ctx, lifecycle.LoopSentbox) }
func (f *fakeCore) PerformMoveBox(ctx context.Context) { f.block(ctx, lifecycle.LoopMoveBox) }

func (f *fakeCore) InterruptIdle() {
	f.interrupts.Add(1)
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeCore) MaybeNetwork(ctx context.Context) {
	if f.networkGate != nil {
		select {
		case <-f.networkGate:
		case <-ctx.Done():
		}
	}
	f.hints.Add(1)
}

func (f *fakeCore) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeCore) inFlightCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[name]
}

func (f *fakeCore) maxInFlight(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight[name]
}

// allEntered reports whether every loop has made at least one call.
func (f *fakeCore) allEntered() bool {
	for _, name := range allLoops {
		if f.callCount(name) == 0 {
			return false
		}
	}
	return true
}

var allLoops = []string{
	lifecycle.LoopIMAP, lifecycle.LoopSMTP, lifecycle.LoopSentbox, lifecycle.LoopMoveBox,
}

// fakeBudget counts grants and serves a settable time remaining.
type fakeBudget struct {
	mu       sync.Mutex
	begins   int
	ends     int
	onExpire func()

	remaining atomic.Int64
	polls     atomic.Int32
}

func newFakeBudget(remaining time.Duration) *fakeBudget {
	b := &fakeBudget{}
	b.remaining.Store(int64(remaining))
	return b
}

type fakeToken struct {
	b *fakeBudget
}

func (t *fakeToken) End() {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.ends++
}

func (b *fakeBudget) Begin(onExpire func()) (lifecycle.BudgetToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.begins++
	b.onExpire = onExpire
	return &fakeToken{b: b}, nil
}

func (b *fakeBudget) TimeRemaining() time.Duration {
	b.polls.Add(1)
	return time.Duration(b.remaining.Load())
}

func (b *fakeBudget) setRemaining(d time.Duration) {
	b.remaining.Store(int64(d))
}

func (b *fakeBudget) counts() (begins, ends int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begins, b.ends
}

func (b *fakeBudget) expire() {
	b.mu.Lock()
	fn := b.onExpire
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// gatedRecorder holds every RecordEvent call until gate is closed, like
// a database waiting on a busy lock.
type gatedRecorder struct {
	gate chan struct{}

	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (r *gatedRecorder) RecordEvent(ctx context.Context, ev model.LifecycleEvent) error {
	select {
	case <-r.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *gatedRecorder) recorded() []model.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.LifecycleEvent(nil), r.events...)
}

package lifecycle_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/lifecycle"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/tests/testutil"
)

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
)

func waitDrained(t *testing.T, c *lifecycle.Controller, within time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestStartTwiceLaunchesOneSetOfLoops(t *testing.T) {
	core := newFakeCore()
	budget := newFakeBudget(time.Hour)
	c := lifecycle.New(core, budget)

	require.True(t, c.Start(nil))
	require.False(t, c.Start(nil))
	require.Equal(t, lifecycle.Running, c.State())

	require.Eventually(t, core.allEntered, eventually, tick)
	for _, name := range allLoops {
		require.Equal(t, 1, core.maxInFlight(name), name)
	}

	c.Stop()
	waitDrained(t, c, time.Second)

	begins, ends := budget.counts()
	require.Equal(t, 1, begins)
	require.Equal(t, 1, ends)
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	core := newFakeCore()
	budget := newFakeBudget(time.Hour)
	c := lifecycle.New(core, budget)

	require.False(t, c.Stop())
	require.Equal(t, lifecycle.Stopped, c.State())
	require.NoError(t, c.Wait(context.Background()))

	begins, _ := budget.counts()
	require.Zero(t, begins)
	require.Zero(t, core.interrupts.Load())
	for _, name := range allLoops {
		require.Zero(t, core.callCount(name), name)
	}
}

func TestStopInterruptsBlockedIMAPWithinBound(t *testing.T) {
	core := newFakeCore()
	core.imapIgnoresCtx = true
	c := lifecycle.New(core, newFakeBudget(time.Hour))

	require.True(t, c.Start(nil))
	require.Eventually(t, func() bool {
		return core.inFlightCount(lifecycle.LoopIMAP) == 1
	}, eventually, tick)

	started := time.Now()
	require.True(t, c.Stop())
	waitDrained(t, c, time.Second)

	require.Less(t, time.Since(started), time.Second)
	require.Equal(t, int32(1), core.interrupts.Load())
	for _, name := range allLoops {
		require.Zero(t, core.inFlightCount(name), name)
	}
}

func TestBudgetReleasedOnceDespiteLateExpiry(t *testing.T) {
	core := newFakeCore()
	budget := newFakeBudget(time.Hour)
	c := lifecycle.New(core, budget)

	c.Start(nil)
	require.Eventually(t, core.allEntered, eventually, tick)
	c.Stop()
	waitDrained(t, c, time.Second)

	budget.expire()

	begins, ends := budget.counts()
	require.Equal(t, 1, begins)
	require.Equal(t, 1, ends)
}

func TestBudgetExpiryBeforeStopSkipsCompletion(t *testing.T) {
	core := newFakeCore()
	budget := newFakeBudget(time.Hour)
	c := lifecycle.New(core, budget)

	var completions atomic.Int32
	c.Start(func() { completions.Add(1) })
	require.Eventually(t, func() bool {
		begins, _ := budget.counts()
		return begins == 1
	}, eventually, tick)

	budget.expire()
	_, ends := budget.counts()
	require.Equal(t, 1, ends)

	c.Stop()
	waitDrained(t, c, time.Second)

	_, ends = budget.counts()
	require.Equal(t, 1, ends)
	require.Zero(t, completions.Load())
}

func TestCompletionCalledWhenIMAPLoopExits(t *testing.T) {
	core := newFakeCore()
	c := lifecycle.New(core, newFakeBudget(time.Hour))

	var completions atomic.Int32
	c.BackgroundFetch(func() { completions.Add(1) })
	require.Eventually(t, core.allEntered, eventually, tick)
	require.Zero(t, completions.Load())

	c.Stop()
	waitDrained(t, c, time.Second)
	require.Equal(t, int32(1), completions.Load())
}

func TestBackgroundFetchWhileRunningCompletesImmediately(t *testing.T) {
	core := newFakeCore()
	c := lifecycle.New(core, newFakeBudget(time.Hour))
	require.True(t, c.Start(nil))

	var completions atomic.Int32
	c.BackgroundFetch(func() { completions.Add(1) })
	require.Equal(t, int32(1), completions.Load())

	c.Stop()
	waitDrained(t, c, time.Second)
	require.Equal(t, int32(1), completions.Load())
}

func TestWatchdogStopsLoopsWhenBackgroundTimeRunsLow(t *testing.T) {
	core := newFakeCore()
	budget := newFakeBudget(15 * time.Second)
	c := lifecycle.New(core, budget,
		lifecycle.WithWatchdogDelay(10*time.Millisecond),
		lifecycle.WithSafetyThreshold(10*time.Second),
	)

	c.EnterForeground()
	require.Eventually(t, core.allEntered, eventually, tick)

	c.EnterBackground()
	require.Eventually(t, func() bool {
		return budget.polls.Load() >= 2
	}, eventually, tick)
	require.Equal(t, lifecycle.Running, c.State())

	budget.setRemaining(8 * time.Second)
	require.Eventually(t, func() bool {
		return c.State() == lifecycle.Stopped
	}, eventually, tick)

	waitDrained(t, c, time.Second)
	begins, ends := budget.counts()
	require.Equal(t, 1, begins)
	require.Equal(t, 1, ends)
	require.Equal(t, int32(1), core.interrupts.Load())

	// The watchdog is done after stopping.
	polls := budget.polls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, polls, budget.polls.Load())
}

func TestWatchdogStandsDownOnForeground(t *testing.T) {
	core := newFakeCore()
	budget := newFakeBudget(time.Second)
	c := lifecycle.New(core, budget,
		lifecycle.WithWatchdogDelay(50*time.Millisecond),
		lifecycle.WithSafetyThreshold(10*time.Second),
	)

	c.EnterForeground()
	c.EnterBackground()
	c.EnterForeground()

	time.Sleep(150 * time.Millisecond)
	require.Zero(t, budget.polls.Load())
	require.Equal(t, lifecycle.Running, c.State())

	c.Stop()
	waitDrained(t, c, time.Second)
}

func TestReachableDispatchesOneHintOffCallerGoroutine(t *testing.T) {
	core := newFakeCore()
	core.networkGate = make(chan struct{})
	c := lifecycle.New(core, newFakeBudget(time.Hour))
	c.Start(nil)

	c.NetworkChanged(false)

	returned := make(chan struct{})
	go func() {
		c.NetworkChanged(true)
		c.NetworkChanged(true)
		close(returned)
	}()

	// NetworkChanged must not wait for the blocked hint.
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("NetworkChanged blocked on MaybeNetwork")
	}
	require.Zero(t, core.hints.Load())

	close(core.networkGate)
	require.Eventually(t, func() bool {
		return core.hints.Load() == 1
	}, eventually, tick)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), core.hints.Load())
	require.Equal(t, lifecycle.Running, c.State())

	c.Stop()
	waitDrained(t, c, time.Second)
}

func TestUnreachableOnlyLogs(t *testing.T) {
	core := newFakeCore()
	c := lifecycle.New(core, newFakeBudget(time.Hour))

	c.NetworkChanged(false)
	time.Sleep(20 * time.Millisecond)

	require.Zero(t, core.hints.Load())
	require.Equal(t, lifecycle.Stopped, c.State())
}

func TestRestartWaitsForDrainingRun(t *testing.T) {
	core := newFakeCore()
	core.gate = make(chan struct{})
	c := lifecycle.New(core, newFakeBudget(time.Hour))

	require.True(t, c.Start(nil))
	require.Eventually(t, func() bool {
		return core.inFlightCount(lifecycle.LoopIMAP) == 1
	}, eventually, tick)

	require.True(t, c.Stop())
	require.True(t, c.Start(nil))

	// The first run's IMAP call is still stuck behind the gate, so the
	// second run must not have entered any loop yet.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, core.callCount(lifecycle.LoopIMAP))

	close(core.gate)
	require.Eventually(t, func() bool {
		return core.callCount(lifecycle.LoopIMAP) >= 2
	}, eventually, tick)

	c.Stop()
	waitDrained(t, c, time.Second)
	for _, name := range allLoops {
		require.Equal(t, 1, core.maxInFlight(name), name)
	}
}

func TestTerminateDrainsAndRefusesRestart(t *testing.T) {
	core := newFakeCore()
	core.networkGate = make(chan struct{})
	c := lifecycle.New(core, newFakeBudget(time.Hour))

	c.Start(nil)
	c.NetworkChanged(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(ctx))

	require.Equal(t, lifecycle.Stopped, c.State())
	require.False(t, c.Start(nil))
	c.EnterForeground()
	require.Equal(t, lifecycle.Stopped, c.State())
}

func TestEventsAreJournaled(t *testing.T) {
	s := testutil.NewTestStore(t)
	core := newFakeCore()
	c := lifecycle.New(core, newFakeBudget(time.Hour), lifecycle.WithRecorder(s))

	c.Start(nil)
	require.Eventually(t, core.allEntered, eventually, tick)
	c.Stop()
	waitDrained(t, c, time.Second)

	require.Eventually(t, func() bool {
		events, err := s.GetEvents(context.Background(), 10)
		if err != nil {
			return false
		}
		return len(events) > 0 && events[0].Kind == model.EventDrained
	}, eventually, tick)

	events, err := s.GetEvents(context.Background(), 10)
	require.NoError(t, err)

	var kinds []model.EventKind
	for i := len(events) - 1; i >= 0; i-- {
		kinds = append(kinds, events[i].Kind)
	}
	require.Equal(t, []model.EventKind{
		model.EventStart,
		model.EventBudgetBegin,
		model.EventStop,
		model.EventBudgetEnd,
		model.EventDrained,
	}, kinds)
}

func TestSlowRecorderDoesNotBlockStopOrWatchdog(t *testing.T) {
	rec := &gatedRecorder{gate: make(chan struct{})}
	core := newFakeCore()
	budget := newFakeBudget(time.Hour)
	c := lifecycle.New(core, budget,
		lifecycle.WithRecorder(rec),
		lifecycle.WithWatchdogDelay(10*time.Millisecond),
		lifecycle.WithSafetyThreshold(10*time.Second),
	)

	stopped := make(chan bool, 1)
	go func() {
		c.Start(nil)
		stopped <- c.Stop()
	}()
	select {
	case ok := <-stopped:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Stop waited on the recorder")
	}
	waitDrained(t, c, time.Second)

	c.EnterForeground()
	require.Eventually(t, core.allEntered, eventually, tick)
	budget.setRemaining(time.Second)
	c.EnterBackground()
	require.Eventually(t, func() bool {
		return c.State() == lifecycle.Stopped
	}, eventually, tick)
	waitDrained(t, c, time.Second)
	require.Empty(t, rec.recorded())

	close(rec.gate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(ctx))

	events := rec.recorded()
	require.NotEmpty(t, events)
	require.Equal(t, model.EventStart, events[0].Kind)
	require.Equal(t, model.EventTerminate, events[len(events)-1].Kind)

	var kinds []model.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Contains(t, kinds, model.EventWatchdog)
}

func TestDrainedEventCarriesStopReason(t *testing.T) {
	rec := &gatedRecorder{gate: make(chan struct{})}
	close(rec.gate)
	core := newFakeCore()
	c := lifecycle.New(core, newFakeBudget(time.Hour), lifecycle.WithRecorder(rec))

	c.Start(nil)
	require.Eventually(t, core.allEntered, eventually, tick)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(ctx))

	var drained []model.LifecycleEvent
	for _, ev := range rec.recorded() {
		if ev.Kind == model.EventDrained {
			drained = append(drained, ev)
		}
	}
	require.Len(t, drained, 1)
	require.Contains(t, drained[0].Detail, lifecycle.ErrStopped.Error())
	require.Contains(t, drained[0].Detail, "terminate")
}

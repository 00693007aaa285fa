package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/nhle/mailsync/internal/lifecycle"
)

// Any interleaving of Start and Stop keeps at most one loop of each kind
// alive and pairs every budget grant with exactly one release.
func TestStartStopSequences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		core := newFakeCore()
		budget := newFakeBudget(time.Hour)
		c := lifecycle.New(core, budget)

		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"start", "stop"}), 1, 20).Draw(rt, "ops")

		want := lifecycle.Stopped
		starts := 0
		for _, op := range ops {
			switch op {
			case "start":
				launched := c.Start(nil)
				if launched != (want == lifecycle.Stopped) {
					rt.Fatalf("Start returned %v in state %v", launched, want)
				}
				if launched {
					starts++
				}
				want = lifecycle.Running
			case "stop":
				stopped := c.Stop()
				if stopped != (want == lifecycle.Running) {
					rt.Fatalf("Stop returned %v in state %v", stopped, want)
				}
				want = lifecycle.Stopped
			}
			if got := c.State(); got != want {
				rt.Fatalf("state %v, want %v", got, want)
			}
		}

		c.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Wait(ctx); err != nil {
			rt.Fatalf("loops did not drain: %v", err)
		}

		begins, ends := budget.counts()
		if begins != starts || ends != starts {
			rt.Fatalf("budget begins=%d ends=%d, want %d each", begins, ends, starts)
		}
		for _, name := range allLoops {
			if n := core.maxInFlight(name); n > 1 {
				rt.Fatalf("%s loop had %d concurrent calls", name, n)
			}
		}
	})
}

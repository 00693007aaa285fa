package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// The expiry callback fires when the time is already gone, too late for
// the loops to wind down, so the watchdog polls ahead of it. Its delay
// must stay well below the safety threshold.

// watchdog polls the remaining background time every watchdogDelay and
// stops the loops once it falls under safetyThreshold. It exits without
// action if the application returns to the foreground.
func (c *Controller) watchdog(ctx context.Context) {
	timer := time.NewTimer(c.watchdogDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if c.foreground.Load() {
			return
		}

		remaining := c.budget.TimeRemaining()
		c.logger.Info("watchdog", "state", c.State(), "remaining", remaining)

		if remaining < c.safetyThreshold {
			c.mu.Lock()
			// Re-check under the lock: a foreground transition may have
			// raced with the poll.
			if !c.foreground.Load() && ctx.Err() == nil {
				if c.stopLocked("background time low") {
					c.record(model.EventWatchdog, fmt.Sprintf("remaining=%s", remaining))
				}
			}
			c.mu.Unlock()
			return
		}

		timer.Reset(c.watchdogDelay)
	}
}

// armWatchdogLocked replaces any pending watchdog with a fresh one.
// c.mu must be held.
func (c *Controller) armWatchdogLocked() {
	if c.terminated || c.budget == nil {
		return
	}
	c.disarmWatchdogLocked()
	ctx, cancel := context.WithCancel(c.base)
	c.watchdogStop = cancel
	go c.watchdog(ctx)
}

// disarmWatchdogLocked cancels a pending watchdog. c.mu must be held.
func (c *Controller) disarmWatchdogLocked() {
	if c.watchdogStop != nil {
		c.watchdogStop()
		c.watchdogStop = nil
	}
}

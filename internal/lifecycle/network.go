package lifecycle

import "github.com/nhle/mailsync/internal/model"

// NetworkChanged reports a reachability transition. Becoming reachable
// dispatches one MaybeNetwork hint to the core on its own goroutine,
// since the call can block for seconds. Becoming unreachable is only
// logged. Repeated reports of the same reachability are ignored.
func (c *Controller) NetworkChanged(reachable bool) {
	c.mu.Lock()
	if c.reachable != nil && *c.reachable == reachable {
		c.mu.Unlock()
		return
	}
	c.reachable = &reachable
	if !reachable {
		c.mu.Unlock()
		c.logger.Info("network: not reachable")
		c.record(model.EventUnreachable, "")
		return
	}
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.hints.Add(1)
	ctx := c.base
	c.mu.Unlock()

	c.logger.Info("network: reachable")
	c.record(model.EventReachable, "")

	go func() {
		defer c.hints.Done()
		c.core.MaybeNetwork(ctx)
		c.logger.Debug("network hint delivered")
	}()
}

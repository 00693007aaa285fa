package lifecycle

import (
	"sync"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// BudgetProvider grants background-execution time, the way a mobile
// platform lets an app finish work after it leaves the foreground.
type BudgetProvider interface {
	// Begin requests background time. onExpire is called by the
	// provider if the allowance runs out while the token is held.
	Begin(onExpire func()) (BudgetToken, error)

	// TimeRemaining reports how much background time is left. While
	// foregrounded it is effectively unlimited.
	TimeRemaining() time.Duration
}

// BudgetToken is an outstanding background-time grant.
type BudgetToken interface {
	End()
}

// budgetHandle guarantees a token is ended exactly once, whichever of
// the loop exit or the provider's expiry gets there first.
type budgetHandle struct {
	token BudgetToken
	once  sync.Once
}

// release ends the token and reports whether this call did so.
func (h *budgetHandle) release() bool {
	released := false
	h.once.Do(func() {
		h.token.End()
		released = true
	})
	return released
}

func (c *Controller) beginBudget() *budgetHandle {
	if c.budget == nil {
		return nil
	}

	h := &budgetHandle{}
	var mu sync.Mutex
	expired := false

	// The provider may call onExpire before Begin returns.
	token, err := c.budget.Begin(func() {
		mu.Lock()
		defer mu.Unlock()
		if h.token == nil {
			expired = true
			return
		}
		if h.release() {
			c.logger.Warn("background task expired")
			c.record(model.EventBudgetEnd, "expired")
		}
	})
	if err != nil {
		c.logger.Warn("background task not granted", "error", err)
		return nil
	}

	mu.Lock()
	h.token = token
	early := expired
	mu.Unlock()

	c.logger.Info("background task registered")
	c.record(model.EventBudgetBegin, "")

	if early {
		h.release()
		c.record(model.EventBudgetEnd, "expired")
		return nil
	}
	return h
}

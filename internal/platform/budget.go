// Package platform supplies the operating-system services the lifecycle
// controller expects from a mobile platform, implemented for a
// long-running daemon: a background-execution budget and a network
// reachability monitor.
package platform

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/lifecycle"
	applog "github.com/nhle/mailsync/internal/log"
)

// Unlimited is reported as time remaining while foregrounded.
const Unlimited = time.Duration(math.MaxInt64)

// ErrBudgetExhausted is returned by Begin once background time is used up.
var ErrBudgetExhausted = errors.New("background time exhausted")

// Budget grants background-execution time. While foregrounded, grants
// are unlimited. After EnterBackground the allowance starts draining and
// every outstanding grant is expired when it reaches zero.
type Budget struct {
	allowance time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	background bool
	since      time.Time
	tokens     map[string]*budgetToken
}

var _ lifecycle.BudgetProvider = (*Budget)(nil)

// BudgetOption configures a Budget.
type BudgetOption func(*Budget)

// WithBudgetLogger sets the logger.
func WithBudgetLogger(l *slog.Logger) BudgetOption {
	return func(b *Budget) {
		b.logger = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BudgetOption {
	return func(b *Budget) {
		b.now = now
	}
}

// NewBudget returns a foregrounded Budget granting allowance of
// background time per backgrounding.
func NewBudget(allowance time.Duration, opts ...BudgetOption) *Budget {
	b := &Budget{
		allowance: allowance,
		now:       time.Now,
		logger:    applog.Discard(),
		tokens:    make(map[string]*budgetToken),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "budget")
	return b
}

type budgetToken struct {
	id       string
	b        *Budget
	onExpire func()
	timer    *time.Timer
}

// End releases the grant. Ending twice is harmless.
func (t *budgetToken) End() {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.endLocked(t)
}

func (b *Budget) endLocked(t *budgetToken) {
	if _, ok := b.tokens[t.id]; !ok {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	delete(b.tokens, t.id)
	b.logger.Debug("grant ended", "token", t.id, "outstanding", len(b.tokens))
}

// Begin grants background time. onExpire is called, without locks held,
// if the grant is still outstanding when the allowance runs out.
func (b *Budget) Begin(onExpire func()) (lifecycle.BudgetToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.remainingLocked()
	if remaining <= 0 {
		return nil, ErrBudgetExhausted
	}

	t := &budgetToken{id: uuid.New().String(), b: b, onExpire: onExpire}
	b.tokens[t.id] = t
	if b.background {
		b.armLocked(t, remaining)
	}
	b.logger.Debug("grant begun", "token", t.id, "remaining", remaining)
	return t, nil
}

// TimeRemaining reports the background time left, or Unlimited while
// foregrounded.
func (b *Budget) TimeRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked()
}

func (b *Budget) remainingLocked() time.Duration {
	if !b.background {
		return Unlimited
	}
	left := b.allowance - b.now().Sub(b.since)
	if left < 0 {
		return 0
	}
	return left
}

// EnterBackground starts draining the allowance.
func (b *Budget) EnterBackground() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.background {
		return
	}
	b.background = true
	b.since = b.now()
	for _, t := range b.tokens {
		b.armLocked(t, b.allowance)
	}
}

// EnterForeground makes grants unlimited again.
func (b *Budget) EnterForeground() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.background = false
	for _, t := range b.tokens {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
}

// Outstanding returns the number of grants not yet ended.
func (b *Budget) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tokens)
}

func (b *Budget) armLocked(t *budgetToken, after time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(after, func() { b.expire(t) })
}

// expire runs the grant's handler and then force-ends it, the way a
// platform reclaims time the app failed to give back.
func (b *Budget) expire(t *budgetToken) {
	b.mu.Lock()
	_, live := b.tokens[t.id]
	b.mu.Unlock()
	if !live {
		return
	}

	b.logger.Warn("grant expired", "token", t.id)
	if t.onExpire != nil {
		t.onExpire()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, still := b.tokens[t.id]; still {
		b.logger.Warn("expiry handler did not end grant", "token", t.id)
		b.endLocked(t)
	}
}

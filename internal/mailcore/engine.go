// Package mailcore is the messaging core driven by the lifecycle
// controller. It keeps one IMAP session per perform loop, stores fetched
// messages in SQLite and delivers the outbox over SMTP.
package mailcore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-message/mail"

	applog "github.com/nhle/mailsync/internal/log"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

const inboxName = "INBOX"

// Engine implements the four perform operations over IMAP and SMTP.
//
// Each IMAP session belongs to a single perform loop. The lifecycle
// controller never runs two instances of a loop at once, so sessions are
// not locked. MaybeNetwork invalidates them by bumping the generation.
type Engine struct {
	account  model.AccountConfig
	password string
	cfg      model.CoreConfig
	store    store.Store
	sender   Sender
	dial     DialFunc
	probe    ProbeFunc
	logger   *slog.Logger

	idleWake    chan struct{}
	smtpWake    chan struct{}
	sentboxWake chan struct{}
	moveboxWake chan struct{}

	gen atomic.Uint64

	inbox   *session
	sentbox *session
	mover   *session // INBOX, for moving chats out
	mvbox   *session
}

// ProbeFunc reports whether address (host:port) accepts connections.
type ProbeFunc func(ctx context.Context, address string) bool

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSender replaces the SMTP sender.
func WithSender(s Sender) Option {
	return func(e *Engine) {
		e.sender = s
	}
}

// WithDialer replaces how IMAP sessions are opened.
func WithDialer(d DialFunc) Option {
	return func(e *Engine) {
		e.dial = d
	}
}

// WithProbe replaces the connectivity probe used by MaybeNetwork.
func WithProbe(p ProbeFunc) Option {
	return func(e *Engine) {
		e.probe = p
	}
}

// New creates an Engine for account. No connection is made until a
// perform operation runs.
func New(
	account model.AccountConfig,
	password string,
	cfg model.CoreConfig,
	s store.Store,
	opts ...Option,
) *Engine {
	e := &Engine{
		account:     account,
		password:    password,
		cfg:         cfg,
		store:       s,
		dial:        DialIMAP,
		probe:       tcpProbe(5 * time.Second),
		logger:      applog.Discard(),
		idleWake:    make(chan struct{}, 1),
		smtpWake:    make(chan struct{}, 1),
		sentboxWake: make(chan struct{}, 1),
		moveboxWake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sender == nil {
		e.sender = NewSMTPSender(account, password)
	}
	e.logger = e.logger.With("component", "mailcore")
	return e
}

// InterruptIdle wakes a PerformIMAP call waiting for new mail. It never
// blocks.
func (e *Engine) InterruptIdle() {
	e.logger.Debug("interrupt idle")
	signal(e.idleWake)
}

// Close closes every cached IMAP session. It must only be called
// once no perform operation is running.
func (e *Engine) Close() {
	for _, slot := range []**session{&e.inbox, &e.sentbox, &e.mover, &e.mvbox} {
		e.drop(slot)
	}
}

// MaybeNetwork probes the IMAP server, drops every cached session so the
// loops reconnect, and wakes all four loops out of their waits.
func (e *Engine) MaybeNetwork(ctx context.Context) {
	addr := net.JoinHostPort(e.account.IMAPHost, e.account.IMAPPort)
	up := e.probe(ctx, addr)
	e.logger.Info("network may have changed", "imap_reachable", up)

	e.gen.Add(1)
	signal(e.idleWake)
	signal(e.smtpWake)
	signal(e.sentboxWake)
	signal(e.moveboxWake)
}

// Enqueue queues a chat message for delivery and wakes the SMTP loop.
func (e *Engine) Enqueue(ctx context.Context, to, subject, body string) (model.OutboxItem, error) {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return model.OutboxItem{}, fmt.Errorf("parsing recipient %q: %w", to, err)
	}

	item, err := e.store.EnqueueOutgoing(ctx, model.OutboxItem{
		To:      addr.Address,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return model.OutboxItem{}, err
	}
	signal(e.smtpWake)
	return item, nil
}

func tcpProbe(timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, address string) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// signal does a non-blocking send on a one-slot wake channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// sleep blocks for d, until wake fires, or until ctx is done.
func sleep(ctx context.Context, wake <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-wake:
	case <-t.C:
	}
}

// block waits for wake or ctx.
func block(ctx context.Context, wake <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-wake:
	}
}

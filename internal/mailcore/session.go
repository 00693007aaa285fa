package mailcore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/model"
)

// idleDoneTimeout bounds how long ending an IDLE may take before the
// connection is torn down.
const idleDoneTimeout = 5 * time.Second

const dialTimeout = 30 * time.Second

// DialFunc opens an authenticated IMAP connection.
type DialFunc func(
	ctx context.Context,
	account model.AccountConfig,
	password string,
	opts *imapclient.Options,
) (*imapclient.Client, error)

// DialIMAP connects to the account's IMAP server using implicit TLS or
// STARTTLS and logs in. The connection is closed if ctx ends before the
// login completes.
func DialIMAP(
	ctx context.Context,
	account model.AccountConfig,
	password string,
	opts *imapclient.Options,
) (*imapclient.Client, error) {
	addr := net.JoinHostPort(account.IMAPHost, account.IMAPPort)
	if opts == nil {
		opts = &imapclient.Options{}
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	tlsConfig := &tls.Config{ServerName: account.IMAPHost}
	var client *imapclient.Client
	if account.TLS {
		tlsConfig.NextProtos = []string{"imap"}
		client = imapclient.New(tls.Client(conn, tlsConfig), opts)
	} else {
		startOpts := *opts
		startOpts.TLSConfig = tlsConfig
		client, err = imapclient.NewStartTLS(conn, &startOpts)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
	}

	if err := client.Login(account.LoginName(), password).Wait(); err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, ctx.Err())
		}
		return nil, &AuthError{Server: addr, Username: account.LoginName(), Err: err}
	}
	if !stop() {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, ctx.Err())
	}

	return client, nil
}

// session is an IMAP connection with one mailbox selected.
type session struct {
	client      *imapclient.Client
	mailbox     string
	uidValidity uint32
	gen         uint64

	// newMail is signalled by unilateral EXISTS responses.
	newMail chan struct{}
}

func (s *session) close() {
	_ = s.client.Close()
}

func (s *session) closed() bool {
	select {
	case <-s.client.Closed():
		return true
	default:
		return false
	}
}

// refresh has the server report changes made through other connections,
// so that UIDs they added are known to this one.
func (s *session) refresh() error {
	if err := s.client.Noop().Wait(); err != nil {
		return fmt.Errorf("NOOP on %s: %w", s.mailbox, err)
	}
	return nil
}

// bind closes the connection if ctx ends before release is called.
// release reports whether the session is still usable.
func (s *session) bind(ctx context.Context) (release func() bool) {
	return context.AfterFunc(ctx, s.close)
}

// ensure returns the session in slot, reconnecting when it is missing
// or was invalidated by MaybeNetwork.
func (e *Engine) ensure(ctx context.Context, slot **session, mailbox string) (*session, error) {
	gen := e.gen.Load()
	if s := *slot; s != nil {
		if s.gen == gen && !s.closed() {
			return s, nil
		}
		e.logger.Debug("dropping stale session", "mailbox", mailbox)
		s.close()
		*slot = nil
	}

	s := &session{mailbox: mailbox, gen: gen, newMail: make(chan struct{}, 1)}
	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					signal(s.newMail)
				}
			},
		},
	}

	client, err := e.dial(ctx, e.account, e.password, opts)
	if err != nil {
		return nil, err
	}
	s.client = client

	release := s.bind(ctx)
	sel, err := client.Select(mailbox, nil).Wait()
	if !release() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.close()
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	s.uidValidity = sel.UIDValidity

	e.logger.Info("imap session ready", "mailbox", mailbox, "messages", sel.NumMessages)
	*slot = s
	return s, nil
}

// drop closes and forgets the session in slot.
func (e *Engine) drop(slot **session) {
	if *slot != nil {
		(*slot).close()
		*slot = nil
	}
}

// fetchNew stores every message above the mailbox cursor. It returns the
// number of messages stored and how many of them are chat messages.
func (e *Engine) fetchNew(ctx context.Context, s *session, direction string) (int, int, error) {
	if err := s.refresh(); err != nil {
		return 0, 0, err
	}
	cur, err := e.store.GetCursor(ctx, s.mailbox)
	if err != nil {
		return 0, 0, err
	}
	if cur.UIDValidity != s.uidValidity {
		if cur.UIDValidity != 0 {
			e.logger.Warn("uidvalidity changed, refetching mailbox",
				"mailbox", s.mailbox, "old", cur.UIDValidity, "new", s.uidValidity)
		}
		cur = model.MailboxCursor{Mailbox: s.mailbox, UIDValidity: s.uidValidity}
	}

	// Stop 0 is "*", the highest UID in the mailbox.
	uidSet := imap.UIDSet{imap.UIDRange{Start: imap.UID(cur.LastUID + 1)}}
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var msgs []model.Message
	chats := 0
	last := cur.LastUID
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		// "n:*" always matches the last message, even below n.
		if uint32(buf.UID) <= cur.LastUID {
			continue
		}

		m := messageFromBuffer(buf, bodySection)
		m.Mailbox = s.mailbox
		m.Direction = direction
		msgs = append(msgs, m)
		if m.IsChat {
			chats++
		}
		last = max(last, m.UID)
	}

	if err := fetchCmd.Close(); err != nil {
		return 0, 0, fmt.Errorf("fetching %s: %w", s.mailbox, err)
	}

	if len(msgs) > 0 {
		if err := e.store.UpsertMessages(ctx, msgs); err != nil {
			return 0, 0, err
		}
	}
	cur.LastUID = last
	if err := e.store.SetCursor(ctx, cur); err != nil {
		return 0, 0, err
	}

	return len(msgs), chats, nil
}

// idle waits in IMAP IDLE until new mail arrives, wake fires, ctx is
// done or the idle timeout passes. Servers without IDLE are polled.
func (e *Engine) idle(ctx context.Context, s *session, wake <-chan struct{}) error {
	if ctx.Err() != nil {
		return nil
	}

	var idleCmd *imapclient.IdleCommand
	timeout := e.cfg.PollInterval()
	if s.client.Caps().Has(imap.CapIdle) {
		cmd, err := s.client.Idle()
		if err != nil {
			return fmt.Errorf("starting IDLE: %w", err)
		}
		idleCmd = cmd
		timeout = e.cfg.IdleTimeout()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-wake:
	case <-s.newMail:
	case <-timer.C:
	}

	if idleCmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- idleCmd.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ending IDLE: %w", err)
		}
		return nil
	case <-time.After(idleDoneTimeout):
		s.close()
		return errors.New("ending IDLE: server did not answer DONE")
	}
}

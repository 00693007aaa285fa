package mailcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// smtpBatch caps how many due items one PerformSMTP call sends.
const smtpBatch = 20

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPSender sends through the account's SMTP server.
type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// NewSMTPSender creates a sender for account.
func NewSMTPSender(account model.AccountConfig, password string) *SMTPSender {
	return &SMTPSender{
		host:     account.SMTPHost,
		port:     account.SMTPPort,
		username: account.LoginName(),
		password: password,
		tls:      account.TLS,
	}
}

// Send delivers msg using implicit TLS or STARTTLS. The connection is
// closed as soon as ctx ends.
func (s *SMTPSender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.host, s.port)
	tlsConfig := &tls.Config{ServerName: s.host}

	var conn net.Conn
	var err error
	if s.tls {
		d := tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := net.Dialer{Timeout: 30 * time.Second}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !s.tls {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	if err := client.Auth(auth); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("SMTP AUTH: %w", ctx.Err())
		}
		return &AuthError{Server: addr, Username: s.username, Err: err}
	}

	if err := sendMailViaSMTPClient(client, from, to, msg); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("sending to %s: %w", addr, ctx.Err())
		}
		return err
	}
	return nil
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message: %w", err)
	}

	return client.Quit()
}

// PerformSMTP sends the due part of the outbox. With nothing due it
// waits for Enqueue, MaybeNetwork, the next retry or the poll interval,
// whichever comes first.
func (e *Engine) PerformSMTP(ctx context.Context) {
	logger := e.logger.With("loop", "smtp")

	items, err := e.store.DueOutgoing(ctx, time.Now(), smtpBatch)
	if err != nil {
		e.failed(ctx, "reading outbox", err, e.smtpWake)
		return
	}

	if len(items) > 0 {
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			e.sendOne(ctx, item)
		}
		return
	}

	wait := e.cfg.PollInterval()
	next, ok, err := e.store.NextDueAt(ctx)
	if err != nil {
		logger.Warn("reading next outbox retry", "error", err)
	} else if ok {
		wait = min(wait, time.Until(next))
	}
	if wait <= 0 {
		return
	}
	sleep(ctx, e.smtpWake, wait)
}

func (e *Engine) sendOne(ctx context.Context, item model.OutboxItem) {
	logger := e.logger.With("loop", "smtp", "outbox_id", item.ID, "to", item.To)

	// A message that went out must be marked even if the run is
	// cancelled meanwhile, or it would be sent twice.
	bg := context.WithoutCancel(ctx)

	raw, err := composeChat(e.account.Address, item, time.Now())
	if err == nil {
		err = e.sender.Send(ctx, e.account.Address, []string{item.To}, raw)
	}
	if err != nil {
		next := time.Now().Add(e.cfg.RetryDelay())
		logger.Warn("sending message failed", "attempt", item.Attempts+1, "error", err)
		if markErr := e.store.MarkFailed(bg, item.ID, err.Error(), next); markErr != nil {
			logger.Error("recording send failure", "error", markErr)
		}
		return
	}

	if err := e.store.MarkSent(bg, item.ID); err != nil {
		logger.Error("marking message sent", "error", err)
		return
	}
	logger.Info("message sent")
}

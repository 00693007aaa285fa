package mailcore

import (
	"context"
	"errors"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsync/internal/model"
)

// PerformIMAP fetches new INBOX mail and then waits in IDLE. Failures are
// logged and followed by the retry delay.
func (e *Engine) PerformIMAP(ctx context.Context) {
	logger := e.logger.With("loop", "imap")

	s, err := e.ensure(ctx, &e.inbox, inboxName)
	if err != nil {
		e.failed(ctx, "connecting inbox", err, e.idleWake)
		return
	}

	release := s.bind(ctx)
	n, chats, err := e.fetchNew(ctx, s, model.DirectionIncoming)
	if !release() {
		e.drop(&e.inbox)
		return
	}
	if err != nil {
		e.drop(&e.inbox)
		e.failed(ctx, "fetching inbox", err, e.idleWake)
		return
	}
	if n > 0 {
		logger.Info("fetched messages", "count", n, "chats", chats)
	}
	if chats > 0 {
		signal(e.moveboxWake)
	}

	if err := e.idle(ctx, s, e.idleWake); err != nil {
		logger.Warn("idle failed", "error", err)
		e.drop(&e.inbox)
	}
}

// PerformSentbox mirrors the Sent folder into the store as outgoing
// messages, then waits for the poll interval or a wake.
func (e *Engine) PerformSentbox(ctx context.Context) {
	if !e.account.WatchSentbox {
		block(ctx, e.sentboxWake)
		return
	}

	s, err := e.ensure(ctx, &e.sentbox, e.account.SentFolder)
	if err != nil {
		e.failed(ctx, "connecting sentbox", err, e.sentboxWake)
		return
	}

	release := s.bind(ctx)
	n, _, err := e.fetchNew(ctx, s, model.DirectionOutgoing)
	if !release() {
		e.drop(&e.sentbox)
		return
	}
	if err != nil {
		e.drop(&e.sentbox)
		e.failed(ctx, "fetching sentbox", err, e.sentboxWake)
		return
	}
	if n > 0 {
		e.logger.Info("fetched sent messages", "loop", "sentbox", "count", n)
	}

	sleep(ctx, e.sentboxWake, e.cfg.PollInterval())
}

// PerformMoveBox moves chat messages that PerformIMAP has already stored
// out of INBOX into the mvbox folder, then fetches new mail from the
// mvbox folder and waits for the poll interval or a wake.
func (e *Engine) PerformMoveBox(ctx context.Context) {
	if !e.account.MvboxMove {
		block(ctx, e.moveboxWake)
		return
	}
	logger := e.logger.With("loop", "movebox")

	if err := e.moveFromInbox(ctx); err != nil {
		e.drop(&e.mover)
		e.failed(ctx, "moving chat messages", err, e.moveboxWake)
		return
	}
	if ctx.Err() != nil {
		return
	}

	s, err := e.ensure(ctx, &e.mvbox, e.account.MvboxFolder)
	if err != nil {
		e.failed(ctx, "connecting mvbox", err, e.moveboxWake)
		return
	}

	release := s.bind(ctx)
	n, _, err := e.fetchNew(ctx, s, model.DirectionIncoming)
	if !release() {
		e.drop(&e.mvbox)
		return
	}
	if err != nil {
		e.drop(&e.mvbox)
		e.failed(ctx, "fetching mvbox", err, e.moveboxWake)
		return
	}
	if n > 0 {
		logger.Info("fetched messages", "count", n, "folder", e.account.MvboxFolder)
	}

	sleep(ctx, e.moveboxWake, e.cfg.PollInterval())
}

// moveFromInbox creates the mvbox folder on a fresh connection and moves
// the stored chat messages into it.
func (e *Engine) moveFromInbox(ctx context.Context) error {
	fresh := e.mover == nil || e.mover.gen != e.gen.Load() || e.mover.closed()
	s, err := e.ensure(ctx, &e.mover, inboxName)
	if err != nil {
		return err
	}

	release := s.bind(ctx)
	defer func() {
		if !release() {
			e.drop(&e.mover)
		}
	}()

	if fresh {
		if err := e.createMvbox(s); err != nil {
			e.logger.Warn("creating mvbox folder", "folder", e.account.MvboxFolder, "error", err)
		}
	}

	moved, err := e.moveChats(ctx, s)
	if err != nil {
		return err
	}
	if moved > 0 {
		e.logger.Info("moved chat messages", "loop", "movebox",
			"count", moved, "folder", e.account.MvboxFolder)
	}
	return nil
}

// createMvbox creates the mvbox folder. A folder that already exists is
// not an error.
func (e *Engine) createMvbox(s *session) error {
	err := s.client.Create(e.account.MvboxFolder, nil).Wait()
	var imapErr *imap.Error
	switch {
	case err == nil:
		e.logger.Info("created mvbox folder", "folder", e.account.MvboxFolder)
		return nil
	case errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeAlreadyExists:
		return nil
	default:
		return err
	}
}

// moveChats moves chat messages at or below the INBOX cursor. Messages
// above it have not been stored yet and stay put until PerformIMAP has
// fetched them.
func (e *Engine) moveChats(ctx context.Context, s *session) (int, error) {
	cur, err := e.store.GetCursor(ctx, s.mailbox)
	if err != nil {
		return 0, err
	}
	if cur.LastUID == 0 || cur.UIDValidity != s.uidValidity {
		return 0, nil
	}
	if err := s.refresh(); err != nil {
		return 0, err
	}

	criteria := &imap.SearchCriteria{
		UID:    []imap.UIDSet{{imap.UIDRange{Start: 1, Stop: imap.UID(cur.LastUID)}}},
		Header: []imap.SearchCriteriaHeaderField{{Key: ChatVersionHeader}},
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, err
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return 0, nil
	}
	if _, err := s.client.Move(imap.UIDSetNum(uids...), e.account.MvboxFolder).Wait(); err != nil {
		return 0, err
	}
	return len(uids), nil
}

// failed logs err and waits out the retry delay. MaybeNetwork cuts the
// wait short through wake.
func (e *Engine) failed(ctx context.Context, what string, err error, wake <-chan struct{}) {
	if ctx.Err() != nil {
		return
	}
	if IsAuthError(err) {
		e.logger.Error(what, "error", err)
	} else {
		e.logger.Warn(what, "error", err)
	}
	sleep(ctx, wake, e.cfg.RetryDelay())
}

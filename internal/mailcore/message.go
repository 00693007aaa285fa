package mailcore

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// ChatVersionHeader marks a message as a chat message.
const ChatVersionHeader = "Chat-Version"

const chatVersion = "1.0"

// parsedMessage is what the core keeps from an RFC 5322 message.
type parsedMessage struct {
	MessageID string
	From      string
	To        []string
	Subject   string
	Date      time.Time
	Body      string
	IsChat    bool
}

// parseMessage reads the header and text/plain body of raw. A message
// that cannot be parsed as MIME is kept as plain text.
func parseMessage(raw []byte) parsedMessage {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return parsedMessage{Body: string(raw)}
	}
	defer mr.Close()

	var p parsedMessage
	h := mr.Header
	p.MessageID, _ = h.MessageID()
	p.Subject, _ = h.Subject()
	p.Date, _ = h.Date()
	p.IsChat = h.Get(ChatVersionHeader) != ""

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			p.To = append(p.To, a.Address)
		}
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		if !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		p.Body = string(body)
		break
	}

	return p
}

// messageFromBuffer builds a store message from a fetched IMAP message,
// preferring the server envelope for addressing fields.
func messageFromBuffer(
	buf *imapclient.FetchMessageBuffer,
	section *imap.FetchItemBodySection,
) model.Message {
	p := parseMessage(buf.FindBodySection(section))

	if env := buf.Envelope; env != nil {
		if env.MessageID != "" {
			p.MessageID = env.MessageID
		}
		if env.Subject != "" {
			p.Subject = env.Subject
		}
		if !env.Date.IsZero() {
			p.Date = env.Date
		}
		if len(env.From) > 0 {
			p.From = env.From[0].Addr()
		}
		if len(env.To) > 0 {
			p.To = p.To[:0]
			for _, to := range env.To {
				p.To = append(p.To, to.Addr())
			}
		}
	}

	return model.Message{
		UID:       uint32(buf.UID),
		MessageID: p.MessageID,
		From:      p.From,
		To:        strings.Join(p.To, ", "),
		Subject:   p.Subject,
		Body:      p.Body,
		Date:      p.Date,
		IsChat:    p.IsChat,
		FetchedAt: time.Now(),
	}
}

// composeChat renders an outbox item as a single-part chat message.
func composeChat(from string, item model.OutboxItem, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: item.To}})
	h.SetSubject(item.Subject)
	h.SetMessageID(messageID(item.ID, from))
	h.Set(ChatVersionHeader, chatVersion)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, item.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// messageID derives a stable Message-Id from the outbox item so retries
// reuse it.
func messageID(itemID, from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	if itemID == "" {
		itemID = uuid.New().String()
	}
	return "Mr." + itemID + "@" + domain
}

package mailcore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
)

func TestComposeChatParsesBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := model.OutboxItem{
		ID:      "abc",
		To:      "bob@example.org",
		Subject: "Chat: hello",
		Body:    "hi bob\r\nsecond line",
	}

	raw, err := composeChat("alice@example.org", item, now)
	require.NoError(t, err)
	require.Contains(t, string(raw), "Chat-Version: 1.0")

	p := parseMessage(raw)
	require.True(t, p.IsChat)
	require.Equal(t, "alice@example.org", p.From)
	require.Equal(t, []string{"bob@example.org"}, p.To)
	require.Equal(t, "Chat: hello", p.Subject)
	require.Equal(t, "Mr.abc@example.org", p.MessageID)
	require.True(t, p.Date.Equal(now))
	require.Equal(t, item.Body, p.Body)
}

func TestParsePlainMailIsNotChat(t *testing.T) {
	raw := strings.Join([]string{
		"From: Carol <carol@example.net>",
		"To: alice@example.org, dave@example.org",
		"Subject: lunch",
		"Message-Id: <1234@example.net>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see you at noon",
	}, "\r\n")

	p := parseMessage([]byte(raw))
	require.False(t, p.IsChat)
	require.Equal(t, "carol@example.net", p.From)
	require.Equal(t, []string{"alice@example.org", "dave@example.org"}, p.To)
	require.Equal(t, "1234@example.net", p.MessageID)
	require.Equal(t, "see you at noon", p.Body)
}

func TestParseMultipartPicksTextPart(t *testing.T) {
	raw := strings.Join([]string{
		"From: bob@example.org",
		"Chat-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=XX",
		"",
		"--XX",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>hello</p>",
		"--XX",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hello",
		"--XX--",
		"",
	}, "\r\n")

	p := parseMessage([]byte(raw))
	require.True(t, p.IsChat)
	require.Equal(t, "hello", p.Body)
}

func TestMessageIDDomain(t *testing.T) {
	require.Equal(t, "Mr.x@example.org", messageID("x", "alice@example.org"))
	require.Equal(t, "Mr.x@localhost", messageID("x", "alice"))
	require.True(t, strings.HasPrefix(messageID("", "a@b.c"), "Mr."))
}

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

func writeConfig(t *testing.T, address string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mailsync.db")
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := strings.Join([]string{
		"account:",
		"  address: " + address,
		"  imap_host: imap.example.org",
		"  smtp_host: smtp.example.org",
		"database:",
		"  path: " + dbPath,
		"log:",
		"  level: error",
	}, "\n")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	return cfgPath, dbPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(strings.NewReader(""), &out, &errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSendQueuesMessage(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, "alice@example.org")

	out, err := runCLI(t, "send", "--config", cfgPath, "-s", "hi", "bob@example.org", "hello", "world")
	require.NoError(t, err)
	require.Contains(t, out, "queued")
	require.Contains(t, out, "bob@example.org")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.DueOutgoing(t.Context(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "hi", items[0].Subject)
	require.Equal(t, "hello world", items[0].Body)
}

func TestSendRejectsBadRecipient(t *testing.T) {
	cfgPath, _ := writeConfig(t, "alice@example.org")
	_, err := runCLI(t, "send", "--config", cfgPath, "nobody", "text")
	require.Error(t, err)
}

func TestEventsOnEmptyJournal(t *testing.T) {
	cfgPath, _ := writeConfig(t, "alice@example.org")
	out, err := runCLI(t, "events", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "no lifecycle events recorded")
}

func TestRenderEvents(t *testing.T) {
	var buf bytes.Buffer
	renderEvents(&buf, []model.LifecycleEvent{
		{Kind: model.EventStop, Detail: "background time low", CreatedAt: time.Now()},
		{Kind: model.EventStart, CreatedAt: time.Now()},
	})

	out := buf.String()
	require.Contains(t, out, "EVENT")
	require.Contains(t, out, "stop")
	require.Contains(t, out, "background time low")
	require.Less(t, strings.Index(out, "stop"), strings.Index(out, "start"))
}

func TestRunRequiresAccount(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, err := runCLI(t, "run", "--config", cfgPath)
	require.ErrorContains(t, err, "account.address")
}

func TestLoginRequiresAddress(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, err := runCLI(t, "login", "--config", cfgPath)
	require.ErrorContains(t, err, "account.address")
}

func TestLogLevelFlagRejectsUnknownLevel(t *testing.T) {
	cfgPath, _ := writeConfig(t, "alice@example.org")
	_, err := runCLI(t, "events", "--config", cfgPath, "--log-level", "loud")
	require.ErrorContains(t, err, "invalid value")
}

func TestFlagEnum(t *testing.T) {
	e := NewEnum([]string{"a", "b"}, "a")
	require.NoError(t, e.Set("b"))
	require.Equal(t, "b", e.String())
	require.Error(t, e.Set("c"))
	require.Equal(t, "b", e.String())
}

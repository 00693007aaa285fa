package theme

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
)

func TestEventKindStyleColors(t *testing.T) {
	require.Equal(t, ColorGreen, EventKindStyle(model.EventStart).GetForeground())
	require.Equal(t, ColorRed, EventKindStyle(model.EventWatchdog).GetForeground())
	require.Equal(t, ColorGray, EventKindStyle(model.EventKind("unknown")).GetForeground())
	require.Equal(t, 20, EventKindStyle(model.EventStop).GetWidth())
}

func TestOutboxStateStyle(t *testing.T) {
	require.Equal(t, ColorGreen, OutboxStateStyle(model.OutboxSent).GetForeground())
	require.Equal(t, ColorYellow, OutboxStateStyle(model.OutboxPending).GetForeground())
}

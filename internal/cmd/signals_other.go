//go:build !unix

package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/nhle/mailsync/internal/lifecycle"
	"github.com/nhle/mailsync/internal/platform"
)

var lifecycleSignals = []os.Signal{os.Interrupt}

// dispatchSignals waits for an interrupt. Only unix platforms can signal
// background and foreground transitions.
func dispatchSignals(
	ctx context.Context,
	sigs <-chan os.Signal,
	_ *platform.Budget,
	_ *lifecycle.Controller,
	logger *slog.Logger,
) {
	select {
	case <-ctx.Done():
	case sig := <-sigs:
		logger.Info("received signal, terminating", "signal", sig)
	}
}

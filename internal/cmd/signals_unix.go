//go:build unix

package cmd

import (
	"context"
	"log/slog"
	"os"
	"syscall"

	"github.com/nhle/mailsync/internal/lifecycle"
	"github.com/nhle/mailsync/internal/platform"
)

var lifecycleSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGTERM,
	syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP,
}

// dispatchSignals maps process signals onto application lifecycle
// events until a termination signal arrives or ctx is done.
func dispatchSignals(
	ctx context.Context,
	sigs <-chan os.Signal,
	budget *platform.Budget,
	ctrl *lifecycle.Controller,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			logger.Debug("received signal", "signal", sig)
			switch sig {
			case syscall.SIGUSR1:
				budget.EnterBackground()
				ctrl.EnterBackground()
			case syscall.SIGUSR2:
				budget.EnterForeground()
				ctrl.EnterForeground()
			case syscall.SIGHUP:
				ctrl.BackgroundFetch(func() {
					logger.Info("background fetch finished")
				})
			default:
				logger.Info("received signal, terminating", "signal", sig)
				return
			}
		}
	}
}

package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/lifecycle"
	"github.com/nhle/mailsync/internal/mailcore"
	"github.com/nhle/mailsync/internal/platform"
	"github.com/nhle/mailsync/internal/store"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon in the foreground",
		Long: `Run the sync daemon.

Signals drive the application lifecycle:
  SIGINT, SIGTERM  terminate
  SIGUSR1          entered background (start the background budget)
  SIGUSR2          entered foreground
  SIGHUP           background fetch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	path := a.cfg.Database.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return store.NewSQLiteStore(path)
}

func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	password, err := credential.AccountPassword(cfg.Account.Address)
	if err != nil {
		return fmt.Errorf("account password (run `mailsync login` or set %s): %w",
			credential.PasswordEnv, err)
	}

	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	logger := a.logger
	budget := platform.NewBudget(cfg.Lifecycle.BackgroundAllowance(), platform.WithBudgetLogger(logger))
	engine := mailcore.New(cfg.Account, password, cfg.Core, s, mailcore.WithLogger(logger))
	ctrl := lifecycle.New(engine, budget,
		lifecycle.WithLogger(logger),
		lifecycle.WithRecorder(s),
		lifecycle.WithWatchdogDelay(cfg.Lifecycle.WatchdogDelay()),
		lifecycle.WithSafetyThreshold(cfg.Lifecycle.SafetyThreshold()),
	)

	probeAddr := cfg.Network.ProbeAddress
	if probeAddr == "" {
		probeAddr = net.JoinHostPort(cfg.Account.IMAPHost, cfg.Account.IMAPPort)
	}
	reach := platform.NewReachability(probeAddr,
		cfg.Network.ProbeInterval(), cfg.Network.ProbeTimeout(),
		ctrl.NetworkChanged, logger)

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, lifecycleSignals...)
	defer signal.Stop(sigs)

	reachCtx, stopReach := context.WithCancel(ctx)
	defer stopReach()
	go reach.Run(reachCtx)

	logger.Info("mailsync started", "account", cfg.Account.Address, "database", cfg.Database.Path)
	ctrl.EnterForeground()

	dispatchSignals(ctx, sigs, budget, ctrl, logger)

	stopReach()
	termCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.TerminateTimeout())
	defer cancel()
	if err := ctrl.Terminate(termCtx); err != nil {
		// Loops may still hold the sessions.
		logger.Warn("perform loops did not drain in time", "error", err)
	} else {
		engine.Close()
	}
	logger.Info("mailsync stopped")
	return nil
}

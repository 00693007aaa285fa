// Package cmd implements the mailsync command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	applog "github.com/nhle/mailsync/internal/log"
	"github.com/nhle/mailsync/internal/model"
)

const (
	configFlagName   = "config"
	logLevelFlagName = "log-level"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   *FlagEnum

	in  io.Reader
	out io.Writer
	err io.Writer

	cfg    *model.AppConfig
	logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		in:       in,
		out:      out,
		err:      errOut,
		logLevel: NewEnum([]string{"trace", "debug", "info", "warn", "error"}, ""),
	}

	root := &cobra.Command{
		Use:           "mailsync",
		Short:         "Chat-over-email sync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.configPath, configFlagName, model.DefaultConfigPath(),
		"Path to the configuration file to load.")
	root.PersistentFlags().Var(a.logLevel, logLevelFlagName,
		fmt.Sprintf("Override log.level [ %s ].", strings.Join(a.logLevel.Allowed, "|")))

	root.AddCommand(
		newRunCmd(a),
		newSendCmd(a),
		newEventsCmd(a),
		newLoginCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel.Value != "" {
		cfg.Log.Level = a.logLevel.Value
	}
	a.cfg = cfg
	a.logger = applog.New(a.err, cfg.Log.Level, cfg.Log.Format)
	return nil
}

// Execute runs the command line and prints any error to errOut.
func Execute(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	root := NewRootCmd(in, out, errOut)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(errOut, "Error:", err)
	}
	return err
}

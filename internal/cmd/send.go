package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/mailcore"
)

func newSendCmd(a *app) *cobra.Command {
	var subject string

	c := &cobra.Command{
		Use:   "send <to> <text>...",
		Short: "Queue a chat message for delivery",
		Long: `Queue a chat message in the outbox. A running daemon delivers it on
its next SMTP pass.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			engine := mailcore.New(a.cfg.Account, "", a.cfg.Core, s, mailcore.WithLogger(a.logger))
			item, err := engine.Enqueue(cmd.Context(), args[0], subject, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "queued %s for %s\n", item.ID, item.To)
			return nil
		},
	}
	c.Flags().StringVarP(&subject, "subject", "s", "Chat message", "Subject line of the message.")
	return c
}

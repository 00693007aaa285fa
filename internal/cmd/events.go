package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

func newEventsCmd(a *app) *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "events",
		Short: "Print the lifecycle journal, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.GetEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderEvents(a.out, events)
			return nil
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 50, "Number of events to print.")
	return c
}

func renderEvents(w io.Writer, events []model.LifecycleEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, theme.DimmedStyle.Render("no lifecycle events recorded"))
		return
	}

	fmt.Fprintln(w, theme.HeaderStyle.Render(fmt.Sprintf("%-19s  %-20s  %s", "TIME", "EVENT", "DETAIL")))
	for _, ev := range events {
		var b strings.Builder
		b.WriteString(theme.DimmedStyle.Render(ev.CreatedAt.Local().Format("2006-01-02 15:04:05")))
		b.WriteString("  ")
		b.WriteString(theme.EventKindStyle(ev.Kind).Render(string(ev.Kind)))
		b.WriteString("  ")
		b.WriteString(ev.Detail)
		fmt.Fprintln(w, b.String())
	}
}

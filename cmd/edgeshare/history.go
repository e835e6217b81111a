package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/danmuck/edgeshare/internal/history"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		direction string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := history.ParseDirection(direction)
			if err != nil {
				return err
			}
			store, err := history.Open(root.cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context(), history.Filter{Direction: dir, Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tDIR\tSTATUS\tNAME\tSIZE\tPEER\tTOOK")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(t.StartedAt),
					t.Direction,
					t.Status,
					t.Name,
					humanize.IBytes(t.Size),
					t.Peer,
					t.Duration().Round(time.Millisecond),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "", "sent|received")
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "maximum rows")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	var (
		name  string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.historyStore()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tMISSION\tRESULT\tTICKS\tFINISHED\tDURATION")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.RunID, r.Mission, r.Result, r.Ticks,
					r.Finished.Format(time.RFC3339), r.Duration().Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&name, "mission", "", "only runs of this mission")
	list.Flags().IntVar(&limit, "limit", 20, "at most this many runs (0 for all)")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print one run record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.historyStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

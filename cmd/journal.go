// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/journal"
	"github.com/spf13/cobra"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal <database>",
	Short: "Print the most recent journaled decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storage, err := journal.NewSQLiteStorage(args[0])
		if err != nil {
			return err
		}
		defer storage.Close()

		entries, err := storage.LoadRecent(journalLimit)
		if err != nil {
			return err
		}
		total, err := storage.Count()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tDIRECTION\tCPU\tOFFSET\tLENGTH\tACTION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.6fs\t%d\t%s\n",
				e.RecordedAt.Format(time.RFC3339Nano), e.Direction, e.CPU,
				float64(e.Offset)/float64(time.Second), e.Length, e.Action)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d decisions\n", len(entries), total)
		return nil
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Number of decisions to print")
}

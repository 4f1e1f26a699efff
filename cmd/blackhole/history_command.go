package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"blackhole/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		category string
		outcome  string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent routing outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := journal.Filter{Category: strings.TrimSpace(category), Limit: limit}
			if value := strings.ToLower(strings.TrimSpace(outcome)); value != "" {
				switch journal.Outcome(value) {
				case journal.OutcomeMoved, journal.OutcomeSubmitted, journal.OutcomeFailed:
					filter.Outcome = journal.Outcome(value)
				default:
					return fmt.Errorf("unknown outcome %q (want moved, submitted or failed)", outcome)
				}
			}

			store, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), filter)
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No routing history")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, historyRow(entry))
			}
			fmt.Fprintln(out, renderTable(
				"",
				[]string{"When", "Category", "Descriptor", "Route", "Outcome", "Tries", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				60,
			))
			fmt.Fprintf(out, "Totals: moved %d, submitted %d, failed %d\n",
				stats[journal.OutcomeMoved], stats[journal.OutcomeSubmitted], stats[journal.OutcomeFailed])
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only show this category")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show moved, submitted or failed")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func historyRow(entry journal.Entry) []string {
	detail := entry.Destination
	if entry.Error != "" {
		detail = entry.ErrorKind + ": " + entry.Error
	}
	route := entry.Route
	if route == "" {
		route = "-"
	}
	return []string{
		entry.CreatedAt.Local().Format(time.DateTime),
		entry.Category,
		filepath.Base(entry.Path),
		route,
		string(entry.Outcome),
		strconv.Itoa(entry.Attempts),
		detail,
	}
}

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"blackhole/internal/logging"
	"blackhole/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow        bool
		lines         int
		category      string
		correlationID string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			match := logs.FieldMatcher(map[string]string{
				logging.FieldCategory:      category,
				logging.FieldCorrelationID: correlationID,
			})
			out := cmd.OutOrStdout()

			if follow {
				return logs.Follow(cmd.Context(), path, lines, match, func(line string) {
					fmt.Fprintln(out, line)
				})
			}

			opts := logs.TailOptions{Offset: -1, Limit: lines, Match: match}
			if lines <= 0 {
				opts = logs.TailOptions{Offset: 0, Match: match}
			}
			result, err := logs.Tail(cmd.Context(), path, opts)
			if err != nil {
				return fmt.Errorf("tail logs: %w", err)
			}
			if len(result.Lines) == 0 {
				fmt.Fprintln(out, "No log entries available")
				return nil
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all)")
	cmd.Flags().StringVar(&category, "category", "", "Only show lines for this category")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Only show lines for one dispatch")
	return cmd
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"blackhole/internal/daemon"
	"blackhole/internal/logging"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the import tree and route descriptors until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := ctx.daemonLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger.Info("blackhole starting",
				logging.String("version", version),
				logging.String("config", ctx.configPath),
				logging.String("import_root", cfg.Paths.ImportRoot),
				logging.String(logging.FieldEventType, "startup"),
			)

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			if err := d.Run(signalCtx); err != nil {
				logging.ErrorWithContext(logger, "daemon exited with error", "daemon_failed", logging.Error(err))
				return err
			}
			logger.Info("blackhole shutting down", logging.String(logging.FieldEventType, "shutdown"))
			return nil
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Route descriptors already in the import tree, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := ctx.daemonLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			d, err := daemon.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			count, err := d.Sweep(signalCtx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d descriptor(s)\n", count)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"blackhole/internal/config"
	"blackhole/internal/logging"
	"blackhole/internal/preflight"
	"blackhole/internal/router"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Set sabnzbd.api_key (or export SABNZBD_API_KEY, or add it to %s) before running blackhole.\n",
				filepath.Join(filepath.Dir(target), ".env"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	var checkRemote bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if _, statErr := os.Stat(ctx.configPath); statErr != nil {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			r, err := router.NewFromConfig(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cfg.Categories))
			for _, category := range cfg.Categories {
				targets, _ := r.TargetsFor(category.Name)
				rows = append(rows, []string{
					category.Name,
					targets.DirectPlan(),
					targets.Queue.Label,
					yesNo(category.Library.Enabled()),
				})
			}
			fmt.Fprintln(out, renderTable(
				"Policy: "+cfg.Triage.Policy,
				[]string{"Category", "Direct target", "Queue label", "Library"},
				rows,
				nil,
				0,
			))

			if checkRemote {
				results := preflight.RunAll(cmd.Context(), cfg)
				checkRows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					checkRows = append(checkRows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(out, renderTable("Remote checks", []string{"Check", "Status", "Detail"}, checkRows, nil, 100))
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d remote check(s) failed", len(failed))
				}
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkRemote, "check-remote", false, "Also check directories, the rclone mount and every remote service")
	return cmd
}

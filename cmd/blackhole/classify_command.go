package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"blackhole/internal/config"
	"blackhole/internal/descriptor"
	"blackhole/internal/logging"
	"blackhole/internal/router"
	"blackhole/internal/services"
	"blackhole/internal/watcher"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var policyFlag string

	cmd := &cobra.Command{
		Use:         "classify FILE...",
		Short:       "Show the routing verdict for descriptors without acting on them",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			// The configuration is optional here: with --policy the command
			// works on any file, and the target column is filled in only when
			// a valid config is available.
			cfg, cfgErr := ctx.ensureConfig()
			policyValue := strings.TrimSpace(policyFlag)
			if policyValue == "" {
				if cfgErr != nil {
					return fmt.Errorf("load config (or pass --policy): %w", cfgErr)
				}
				policyValue = cfg.Triage.Policy
			}
			policy, err := descriptor.ParsePolicy(policyValue)
			if err != nil {
				return err
			}

			var r *router.Router
			if cfgErr == nil {
				r, err = router.NewFromConfig(cfg, logging.NewNop())
				if err != nil {
					return err
				}
			}

			rows := make([][]string, 0, len(args))
			failed := 0
			for _, arg := range args {
				rows = append(rows, classifyRow(cfg, r, policy, arg))
				if rows[len(rows)-1][1] == "error" {
					failed++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				"Policy: "+string(policy),
				[]string{"Descriptor", "Route", "Files", "Evidence", "Target"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				60,
			))
			if failed > 0 {
				return fmt.Errorf("%d descriptor(s) could not be classified", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyFlag, "policy", "", "Classification policy (extension or strict); defaults to triage.policy")
	return cmd
}

func classifyRow(cfg *config.Config, r *router.Router, policy descriptor.Policy, arg string) []string {
	path, err := filepath.Abs(arg)
	if err != nil {
		path = arg
	}
	d, err := descriptor.ParseFile(path)
	if err != nil {
		kind := services.Kind(err)
		if descriptor.IsTruncated(err) {
			kind += " (truncated)"
		}
		return []string{filepath.Base(path), "error", "", kind, err.Error()}
	}
	verdict := descriptor.Classify(d, policy)

	evidence := verdict.Reason
	if verdict.StreamableHint != "" {
		evidence += "; streamable: " + verdict.StreamableHint
	}
	if verdict.ArchiveHint != "" {
		evidence += "; archive: " + verdict.ArchiveHint
	}

	target := ""
	if r != nil {
		if watcher.ShouldDispatch(cfg.Paths.ImportRoot, path) {
			targets, _ := r.TargetsFor(watcher.CategoryOf(path))
			if verdict.Route == descriptor.RouteQueue {
				target = "queue:" + targets.Queue.Label
			} else {
				target = targets.DirectPlanFor(path)
			}
		} else {
			target = "outside import tree"
		}
	}
	return []string{filepath.Base(path), string(verdict.Route), strconv.Itoa(verdict.FileCount), evidence, target}
}

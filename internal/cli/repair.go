package cli

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Find and fix partially written memories",
		Long: "Index memories whose create was interrupted, re-index rows whose vector entry is\n" +
			"missing, and delete the listed orphan vector entries whose row is gone.",
		Run: runRepair,
	}

	cmd.Flags().Bool("dry-run", false, "Report without changing anything")
	cmd.Flags().Duration("grace", 0, "Skip unfinished creates younger than this (default from config)")
	cmd.Flags().Int("limit", 0, "Max repairs per pass (default from config)")
	cmd.Flags().StringSlice("orphan", nil, "Vector id suspected to have no row (repeatable)")

	RootCmd.AddCommand(cmd)
}

func runRepair(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	grace, _ := cmd.Flags().GetDuration("grace")
	limit, _ := cmd.Flags().GetInt("limit")
	orphans, _ := cmd.Flags().GetStringSlice("orphan")

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	opts := a.repairOptions()
	opts.DryRun = dryRun
	opts.OrphanIDs = orphans
	if grace > 0 {
		opts.GracePeriod = grace
	}
	if limit > 0 {
		opts.Limit = limit
	}

	start := time.Now()
	report, err := a.svc.Repair(cmd.Context(), opts)
	if err != nil {
		exitErr("repair", err)
	}
	a.logger.Debug("repair done", zap.Duration("took", time.Since(start)), zap.Int("issues", len(report.Issues)))
	printJSON(cmd, report)
}

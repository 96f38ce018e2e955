package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eavops/schema-sync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync: detect drift and stage it for review",
	Long: `Fetch the current table definitions, regenerate the canonical document and
compare it with the checked-in copy. When they differ, the change is
committed on an ephemeral branch and opened as a pull request into the
protected branch. The protected branch itself is never written.

With --dry-run the planned change is printed and nothing is written
anywhere: no branch, no commit, no pull request.

Exits 0 when there is nothing to do or the change was staged, 1 on failure.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Report the planned change without writing anything")
	syncCmd.Flags().String("overrides", "", "Repository-relative override file path (defaults to the configured one)")
	syncCmd.Flags().String("output", "", "Repository-relative document path (defaults to the configured one)")
}

func runSync(cmd *cobra.Command, _ []string) error {
	opts := runOptions{}
	var err error
	if opts.dryRun, err = cmd.Flags().GetBool("dry-run"); err != nil {
		return err
	}
	if opts.overridesPath, err = cmd.Flags().GetString("overrides"); err != nil {
		return err
	}
	if opts.documentPath, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, prs, err := buildOrchestrator(cfg, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if !opts.dryRun {
		// Surface a missing gh login before the run rather than as a
		// retry-exhausted pull request failure at the end of it.
		if err := prs.CheckAuth(ctx); err != nil {
			slog.Warn("Pull request creation will fail", "error", err)
		}
	}

	result := orch.Run(ctx)
	if result.Outcome == sync.OutcomeDryRun && result.DiffSummary != "" {
		fmt.Println(result.DiffSummary)
	}
	fmt.Println(result.Summary())
	os.Exit(result.ExitCode())
	return nil
}

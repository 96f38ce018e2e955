package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Reset the protected branch to a known-good revision",
	Long: `Force the protected branch back to the given revision and delete every
staged sync branch, locally and on the remote. Pull requests whose head
branch disappears are closed by the platform.

This is the only operation that writes the protected branch. Use it when a
merged sync turns out to be wrong.`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().String("to", "", "Revision to reset the protected branch to (required)")
	if err := rollbackCmd.MarkFlagRequired("to"); err != nil {
		slog.Error("Error marking to flag as required", "error", err)
	}
}

func runRollback(cmd *cobra.Command, _ []string) error {
	revision, err := cmd.Flags().GetString("to")
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, _, vcs, err := buildManager(cfg)
	if err != nil {
		return err
	}

	oldTip, err := vcs.ProtectedTip()
	if err != nil {
		return err
	}

	if err := mgr.Rollback(cmd.Context(), revision); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	newTip, err := vcs.ProtectedTip()
	if err != nil {
		newTip = revision
	}
	fmt.Printf("rolled back %s: %s -> %s\n", cfg.Repository.GetProtectedBranch(), oldTip, newTip)
	return nil
}

package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/eavops/schema-sync/internal/status"
	"github.com/eavops/schema-sync/internal/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last run",
	Long: `Print the record of the most recent run. When the run staged a branch and
the repository is reachable, the current state of its pull request is looked
up as well.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("format", "", "Output format (json)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	path, err := status.DefaultPath()
	if err != nil {
		return fmt.Errorf("failed to resolve status location: %w", err)
	}

	last, err := status.NewFileStore(path).Load()
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Println("no runs recorded yet")
		return nil
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if format == "json" {
		output, err := json.MarshalIndent(last, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"FIELD", "VALUE"})
	rows := [][]string{
		{"run", last.RunID},
		{"outcome", last.Outcome},
		{"message", last.Message},
		{"finished", last.FinishedAt.Format(time.RFC3339)},
	}
	if last.DocumentHash != "" {
		rows = append(rows, []string{"document hash", last.DocumentHash})
	}
	if last.Branch != "" {
		rows = append(rows, []string{"branch", last.Branch})
	}
	if last.PullRequestURL != "" {
		rows = append(rows, []string{"pull request", last.PullRequestURL})
	}
	if state := reviewState(cmd, last); state != "" {
		rows = append(rows, []string{"review state", state})
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
	return nil
}

// reviewState looks up the staged pull request's current state. Best effort;
// a missing configuration or an unreachable platform just omits the row.
func reviewState(cmd *cobra.Command, last *status.RunStatus) string {
	if last.Branch == "" {
		return ""
	}
	cfg, err := loadConfig()
	if err != nil {
		slog.Debug("Skipping pull request lookup", "error", err)
		return ""
	}
	_, prs, _, err := buildManager(cfg)
	if err != nil {
		slog.Debug("Skipping pull request lookup", "error", err)
		return ""
	}

	pr, err := prs.View(cmd.Context(), last.Branch)
	if err != nil || pr == nil {
		slog.Debug("Pull request lookup failed", "branch", last.Branch, "error", err)
		return ""
	}
	return string(workflow.StateForPullRequest(pr.State))
}

package app

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eavops/schema-sync/internal/sync"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run sync on a schedule until interrupted",
	Long: `Run the sync loop on a fixed interval with a small random jitter. Each
iteration behaves exactly like a single sync run, heartbeat included. A
failed run is reported and the loop continues; stop with SIGINT or SIGTERM.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", sync.DefaultInterval, "Delay between runs")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, _, err := buildOrchestrator(cfg, runOptions{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := sync.NewCoordinator(orch, interval)
	return coord.Start(ctx)
}

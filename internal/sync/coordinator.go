package sync

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	// DefaultInterval is the base delay between scheduled runs in watch mode.
	DefaultInterval = 15 * time.Minute

	// maxJitterFraction caps the random offset applied to the interval.
	maxJitterFraction = 0.1
)

// Runner executes one sync run. Implemented by Orchestrator.
type Runner interface {
	Run(ctx context.Context) Result
}

// Coordinator schedules repeated runs in watch mode. Runs execute strictly
// one at a time; overlap protection across processes stays with the branch
// guard, not with this loop.
type Coordinator struct {
	runner   Runner
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a coordinator that triggers runner every interval.
// A non-positive interval falls back to DefaultInterval.
func NewCoordinator(runner Runner, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		runner:   runner,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// nextInterval applies a random jitter of up to ±10% so multiple deployments
// on the same schedule do not hit the schema source together.
func (c *Coordinator) nextInterval() time.Duration {
	jitter := time.Duration(float64(c.interval) * maxJitterFraction)
	if jitter <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: scheduling jitter does not need crypto randomness
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return c.interval + offset
}

// Start runs immediately, then on every tick until the context is cancelled
// or Stop is called. Individual run failures are already reported through the
// result and heartbeat; the loop keeps going.
func (c *Coordinator) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer func() {
		close(c.done)
		slog.Info("Watch loop stopped")
	}()

	interval := c.nextInterval()
	slog.Info("Starting watch loop", "base_interval", c.interval, "first_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runOnce(loopCtx)

	for {
		select {
		case <-ticker.C:
			c.runOnce(loopCtx)
			ticker.Reset(c.nextInterval())
		case <-loopCtx.Done():
			return nil
		}
	}
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Coordinator) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result := c.runner.Run(ctx)
	slog.Info("Scheduled run finished", "run_id", result.RunID, "outcome", string(result.Outcome))
}

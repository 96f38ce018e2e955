// Package heartbeat reports run liveness to an external monitoring endpoint.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eavops/schema-sync/internal/config"
	"github.com/eavops/schema-sync/internal/httpclient"
)

const (
	// failPath is appended to the ping URL when reporting a failed run.
	failPath = "/fail"

	// maxAttempts bounds delivery tries for a single signal.
	maxAttempts = 2

	// initialRetryInterval is the delay before the second delivery attempt.
	initialRetryInterval = 200 * time.Millisecond
)

// Reporter delivers exactly one liveness signal per run to an external
// monitor. Delivery problems are returned so the caller can log and discard
// them; a failed ping must never fail a run.
type Reporter interface {
	// Success signals a run that completed without error, including dry
	// runs and runs that found nothing to change.
	Success(ctx context.Context, runID string) error

	// Failure signals a failed run along with its error classification.
	Failure(ctx context.Context, runID, kind, message string) error
}

// failurePayload is the JSON body posted for a failed run.
type failurePayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// httpReporter pings a healthchecks-style endpoint: GET the ping URL on
// success, POST <url>/fail on failure.
type httpReporter struct {
	client httpclient.Client
	url    string
}

var _ Reporter = (*httpReporter)(nil)

// NewReporter builds a reporter from heartbeat configuration. A missing
// section or empty URL disables reporting.
func NewReporter(cfg *config.HeartbeatConfig) Reporter {
	pingURL := cfg.GetURL()
	if pingURL == "" {
		slog.Debug("Heartbeat reporting disabled")
		return noopReporter{}
	}
	return NewReporterWithClient(pingURL, httpclient.NewDefaultClient(cfg.GetTimeout()))
}

// NewReporterWithClient builds a reporter with a custom HTTP client.
func NewReporterWithClient(pingURL string, client httpclient.Client) Reporter {
	return &httpReporter{
		client: client,
		url:    strings.TrimRight(pingURL, "/"),
	}
}

// Success signals a run that completed without error.
func (r *httpReporter) Success(ctx context.Context, runID string) error {
	err := r.deliver(ctx, func(ctx context.Context) error {
		_, err := r.client.Get(ctx, withRunID(r.url, runID))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to deliver success heartbeat: %w", err)
	}
	return nil
}

// Failure signals a failed run along with its error classification.
func (r *httpReporter) Failure(ctx context.Context, runID, kind, message string) error {
	body, err := json.Marshal(failurePayload{Kind: kind, Message: message})
	if err != nil {
		return fmt.Errorf("failed to encode heartbeat payload: %w", err)
	}

	err = r.deliver(ctx, func(ctx context.Context) error {
		_, err := r.client.Post(ctx, withRunID(r.url+failPath, runID), body)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to deliver failure heartbeat: %w", err)
	}
	return nil
}

// deliver sends one signal with a single bounded retry.
func (r *httpReporter) deliver(ctx context.Context, send func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryInterval

	operation := func() (struct{}, error) {
		return struct{}{}, send(ctx)
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxAttempts),
	)
	return err
}

// withRunID attaches the run identifier as a query parameter so the monitor
// can correlate signals from the same run.
func withRunID(base, runID string) string {
	if runID == "" {
		return base
	}
	return base + "?rid=" + url.QueryEscape(runID)
}

// noopReporter is used when no heartbeat endpoint is configured.
type noopReporter struct{}

var _ Reporter = noopReporter{}

func (noopReporter) Success(context.Context, string) error { return nil }

func (noopReporter) Failure(context.Context, string, string, string) error { return nil }

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/eavops/schema-sync/internal/generator"
	"github.com/eavops/schema-sync/internal/heartbeat"
	"github.com/eavops/schema-sync/internal/overrides"
	"github.com/eavops/schema-sync/internal/schema"
	"github.com/eavops/schema-sync/internal/status"
	"github.com/eavops/schema-sync/internal/workflow"
)

// Proposer stages a regenerated document for review. Implemented by
// workflow.Manager; tests substitute a fake.
type Proposer interface {
	// Propose drives the branch, commit, push, pull request sequence.
	Propose(ctx context.Context, req workflow.ProposeRequest) (*workflow.Proposal, error)

	// BranchName derives the ephemeral branch name for a document.
	BranchName(doc []byte) string
}

// Deps carries the orchestrator's collaborators and run parameters.
type Deps struct {
	// Source provides table definitions for the run.
	Source schema.Source

	// Proposer stages detected drift for review. Unused on dry runs.
	Proposer Proposer

	// Reporter delivers the per-run heartbeat.
	Reporter heartbeat.Reporter

	// Status persists the last-run record. Optional; nil disables it.
	Status status.Store

	// OverridesPath locates the operator override file. Empty or absent
	// means no overrides.
	OverridesPath string

	// DocumentFile is the on-disk location of the checked-in document.
	DocumentFile string

	// DocumentPath is the repository-relative path committed on the
	// ephemeral branch.
	DocumentPath string

	// DryRun reports the planned change without writing anything.
	DryRun bool
}

// Orchestrator sequences one sync run: load overrides, fetch the schema,
// generate the document, diff it against the checked-in copy and stage any
// drift for review. Every run terminates with exactly one Result and exactly
// one heartbeat, whichever path it took.
type Orchestrator struct {
	deps Deps
}

// NewOrchestrator creates an orchestrator with injected collaborators.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Run executes one sync run and returns its terminal result. Fatal errors
// and panics are converted into an error result at this boundary; nothing
// propagates past it. The heartbeat and the run record are emitted for every
// outcome.
func (o *Orchestrator) Run(ctx context.Context) Result {
	runID := uuid.NewString()
	started := time.Now()
	slog.Info("Starting sync run", "run_id", runID, "dry_run", o.deps.DryRun)

	result := o.protectedRun(ctx, runID)
	o.finish(ctx, started, result)
	return result
}

// protectedRun executes the run body with panic recovery so a defect in any
// collaborator still yields a classified result and a heartbeat.
func (o *Orchestrator) protectedRun(ctx context.Context, runID string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered panic during sync run", "run_id", runID, "panic", r)
			result = Failed(runID, NewError(ErrorKindInternal, fmt.Sprintf("unexpected failure: %v", r), nil))
		}
	}()
	return o.run(ctx, runID)
}

func (o *Orchestrator) run(ctx context.Context, runID string) Result {
	ovr, err := overrides.Load(o.deps.OverridesPath)
	if err != nil {
		return Failed(runID, NewError(ErrorKindOverrideParse, err.Error(), err))
	}

	tables, err := o.deps.Source.FetchTables(ctx)
	if err != nil {
		return Failed(runID, NewError(ErrorKindSchemaFetch, err.Error(), err))
	}
	slog.Debug("Fetched table definitions", "run_id", runID, "table_count", len(tables))

	doc, warnings, err := generator.Generate(tables, ovr)
	if err != nil {
		return Failed(runID, NewError(ErrorKindYAMLGeneration, err.Error(), err))
	}
	for _, warning := range warnings {
		slog.Warn("Stale override", "run_id", runID, "warning", warning)
	}
	hash := workflow.DocumentHash(doc)

	current, err := o.readCheckedIn()
	if err != nil {
		return Failed(runID, NewError(ErrorKindVCSCommand, err.Error(), err))
	}

	if bytes.Equal(current, doc) {
		slog.Info("No changes detected", "run_id", runID, "document_hash", hash)
		return NoChanges(runID, hash)
	}

	summary := Summarize(current, doc)

	if o.deps.DryRun {
		slog.Info("Dry run, skipping repository mutation", "run_id", runID, "document_hash", hash)
		return DryRunPlan(runID, summary, hash)
	}

	proposal, err := o.deps.Proposer.Propose(ctx, workflow.ProposeRequest{
		Document:    doc,
		Path:        o.deps.DocumentPath,
		DiffSummary: summary,
		Warnings:    warnings,
	})
	if err != nil {
		if errors.Is(err, workflow.ErrSyncInProgress) {
			// The same drift is already staged, likely by an overlapping
			// or interrupted run. Reported as no changes so scheduled
			// runs do not pile up duplicate pull requests.
			branch := o.deps.Proposer.BranchName(doc)
			slog.Info("Change already staged for review", "run_id", runID, "branch", branch)
			result := NoChanges(runID, hash)
			result.BranchName = branch
			result.Message = fmt.Sprintf("change already staged on %s, awaiting review", branch)
			return result
		}
		var prErr *workflow.PRError
		if errors.As(err, &prErr) {
			return Failed(runID, NewError(ErrorKindPRCreation, err.Error(), err))
		}
		return Failed(runID, NewError(ErrorKindVCSCommand, err.Error(), err))
	}

	return PullRequestCreated(runID, proposal.PullRequestURL, proposal.Branch, hash)
}

// readCheckedIn loads the checked-in document. A missing file is the first
// run against a fresh repository and diffs as empty.
func (o *Orchestrator) readCheckedIn() ([]byte, error) {
	data, err := os.ReadFile(o.deps.DocumentFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checked-in document %s: %w", o.deps.DocumentFile, err)
	}
	return data, nil
}

// finish emits the heartbeat and persists the run record. Failures here are
// logged and discarded; the result is already decided.
func (o *Orchestrator) finish(ctx context.Context, started time.Time, result Result) {
	o.beat(ctx, result)

	// Dry runs leave no artifacts anywhere, the run record included.
	if o.deps.Status == nil || result.Outcome == OutcomeDryRun {
		return
	}
	record := &status.RunStatus{
		RunID:          result.RunID,
		Outcome:        string(result.Outcome),
		Message:        result.Summary(),
		Branch:         result.BranchName,
		PullRequestURL: result.PullRequestURL,
		DocumentHash:   result.DocumentHash,
		StartedAt:      started,
		FinishedAt:     time.Now(),
	}
	if err := o.deps.Status.Save(record); err != nil {
		slog.Warn("Failed to persist run record", "run_id", result.RunID, "error", err)
	}
}

// beat sends exactly one heartbeat matching the result. Delivery failures
// never change the run's outcome.
func (o *Orchestrator) beat(ctx context.Context, result Result) {
	// The run's own deadline may already have expired; the heartbeat still
	// has to go out.
	ctx = context.WithoutCancel(ctx)

	var err error
	if result.Outcome == OutcomeError {
		kind := ErrorKindInternal
		message := "sync failed"
		if result.Err != nil {
			kind = result.Err.Kind
			message = result.Err.Message
		}
		err = o.deps.Reporter.Failure(ctx, result.RunID, string(kind), message)
	} else {
		err = o.deps.Reporter.Success(ctx, result.RunID)
	}
	if err != nil {
		slog.Warn("Failed to deliver heartbeat", "run_id", result.RunID, "error", err)
	}
}

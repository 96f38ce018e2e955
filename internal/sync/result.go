package sync

import "fmt"

// Outcome labels the terminal result of a run.
type Outcome string

const (
	// OutcomeNoChanges means the regenerated document matched the
	// checked-in one byte for byte, or the change is already staged.
	OutcomeNoChanges Outcome = "no-changes"

	// OutcomePullRequestCreated means an ephemeral branch was staged and a
	// pull request opened for review.
	OutcomePullRequestCreated Outcome = "pull-request-created"

	// OutcomeDryRun means the run reported what it would change without
	// writing anything.
	OutcomeDryRun Outcome = "dry-run"

	// OutcomeError means the run failed before reaching a terminal outcome.
	OutcomeError Outcome = "error"
)

// ErrorKind classifies failures for the heartbeat payload and the run record.
type ErrorKind string

const (
	// ErrorKindSchemaFetch covers failures reading table definitions from
	// the schema source.
	ErrorKindSchemaFetch ErrorKind = "schema-fetch"

	// ErrorKindOverrideParse covers unreadable or invalid override files.
	ErrorKindOverrideParse ErrorKind = "override-parse"

	// ErrorKindYAMLGeneration covers document generation failures.
	ErrorKindYAMLGeneration ErrorKind = "yaml-generation"

	// ErrorKindVCSCommand covers repository operations: fetch, branch,
	// commit, push.
	ErrorKindVCSCommand ErrorKind = "vcs-command"

	// ErrorKindPRCreation covers pull request platform failures.
	ErrorKindPRCreation ErrorKind = "pr-creation"

	// ErrorKindHeartbeat covers heartbeat delivery failures. These are
	// logged and discarded, never fatal.
	ErrorKindHeartbeat ErrorKind = "heartbeat"

	// ErrorKindInternal covers panics recovered at the run boundary.
	ErrorKindInternal ErrorKind = "internal"
)

// Error is a classified run failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds a classified error wrapping err.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the single terminal outcome of one run.
type Result struct {
	RunID   string
	Outcome Outcome

	// Message optionally refines the outcome for humans and the run record.
	Message string

	// BranchName and PullRequestURL are set when a change was staged, and
	// BranchName alone when the change was found already staged.
	BranchName     string
	PullRequestURL string

	// DiffSummary describes the planned change on dry runs.
	DiffSummary string

	// DocumentHash is the content hash of the generated document.
	DocumentHash string

	// Err carries the classified failure when Outcome is OutcomeError.
	Err *Error
}

// NoChanges reports a run whose document needed no update.
func NoChanges(runID, documentHash string) Result {
	return Result{RunID: runID, Outcome: OutcomeNoChanges, DocumentHash: documentHash}
}

// PullRequestCreated reports a staged change awaiting review.
func PullRequestCreated(runID, url, branch, documentHash string) Result {
	return Result{
		RunID:          runID,
		Outcome:        OutcomePullRequestCreated,
		PullRequestURL: url,
		BranchName:     branch,
		DocumentHash:   documentHash,
	}
}

// DryRunPlan reports what a real run would have changed.
func DryRunPlan(runID, diffSummary, documentHash string) Result {
	return Result{
		RunID:        runID,
		Outcome:      OutcomeDryRun,
		DiffSummary:  diffSummary,
		DocumentHash: documentHash,
	}
}

// Failed reports a classified failure.
func Failed(runID string, err *Error) Result {
	return Result{RunID: runID, Outcome: OutcomeError, Err: err}
}

// ExitCode maps the outcome to a process exit code.
func (r Result) ExitCode() int {
	if r.Outcome == OutcomeError {
		return 1
	}
	return 0
}

// Summary returns a one-line human description of the result.
func (r Result) Summary() string {
	if r.Message != "" {
		return r.Message
	}
	switch r.Outcome {
	case OutcomeNoChanges:
		return "no changes detected"
	case OutcomePullRequestCreated:
		return "pull request created: " + r.PullRequestURL
	case OutcomeDryRun:
		return "dry run complete"
	case OutcomeError:
		if r.Err != nil {
			return fmt.Sprintf("sync failed (%s): %s", r.Err.Kind, r.Err.Message)
		}
		return "sync failed"
	default:
		return string(r.Outcome)
	}
}

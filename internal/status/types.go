package status

import "time"

// RunStatus is the persisted record of the most recent run. It is purely
// informational for the status command; the concurrency guard never reads
// it, the ephemeral branch in the repository is the durable fact.
type RunStatus struct {
	// RunID identifies the run that wrote this record.
	RunID string `json:"runId"`

	// Outcome labels how the run finished, e.g. "no-changes" or "error".
	Outcome string `json:"outcome"`

	// Message carries a human-readable summary or the error text.
	Message string `json:"message,omitempty"`

	// Branch is the ephemeral branch staged by the run, if any.
	Branch string `json:"branch,omitempty"`

	// PullRequestURL is the pull request opened by the run, if any.
	PullRequestURL string `json:"pullRequestUrl,omitempty"`

	// DocumentHash is the content hash of the generated document.
	DocumentHash string `json:"documentHash,omitempty"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

package workflow

import "strings"

// State tracks how far a proposal progressed through the branch, commit and
// pull request sequence. States live in memory only; the ephemeral branch in
// the repository is the sole durable fact between runs.
type State string

const (
	// StateClean means no ephemeral branch or commit exists yet.
	StateClean State = "Clean"

	// StateBranchCreated means the ephemeral branch exists locally.
	StateBranchCreated State = "BranchCreated"

	// StateCommitted means the regenerated document is committed on the
	// ephemeral branch.
	StateCommitted State = "Committed"

	// StatePullRequestOpen means the branch is published and a pull request
	// is open for review.
	StatePullRequestOpen State = "PullRequestOpen"

	// StateMerged means a reviewer merged the pull request. Merging is
	// always a human act, this state is only ever observed.
	StateMerged State = "Merged"

	// StateRolledBack means an operator reset the protected branch to a
	// known-good revision and the staged branches were removed.
	StateRolledBack State = "RolledBack"

	// StateAbandoned means a run failed and its partial work was cleaned up.
	StateAbandoned State = "Abandoned"
)

// StateForPullRequest maps a pull request state reported by the review
// platform onto the workflow state it implies.
func StateForPullRequest(prState string) State {
	switch strings.ToUpper(prState) {
	case "MERGED":
		return StateMerged
	case "OPEN":
		return StatePullRequestOpen
	case "CLOSED":
		return StateAbandoned
	default:
		return StateClean
	}
}

// Package workflow drives the generate-review-merge sequence: stage the
// regenerated document on an ephemeral branch, open a pull request into the
// protected branch, and unwind cleanly when any step fails. The protected
// branch is never written directly; the only path to it is a reviewed merge,
// and the only exception is an operator-driven rollback.
package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eavops/schema-sync/internal/github"
	"github.com/eavops/schema-sync/internal/gitops"
)

const (
	// DefaultBranchPrefix namespaces ephemeral branches.
	DefaultBranchPrefix = "schema-sync"

	// DefaultMaxAttempts bounds tries for each remote operation.
	DefaultMaxAttempts = 3

	// DefaultRetryInterval seeds the exponential backoff between retries.
	DefaultRetryInterval = 500 * time.Millisecond

	// branchHashLength is how many hex digits of the document hash identify
	// a document revision in branch names.
	branchHashLength = 12

	// cleanupTimeout bounds the unwind work after a failed proposal.
	cleanupTimeout = 30 * time.Second
)

// ErrSyncInProgress is returned by Propose when the derived branch already
// exists. Branch names are content addressed, so an existing branch means
// this exact change is already staged and awaiting review.
var ErrSyncInProgress = errors.New("sync already in progress")

// PRError marks a failure in the pull request step so callers can classify
// it apart from version control failures.
type PRError struct {
	Err error
}

// Error implements the error interface
func (e *PRError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PRError) Unwrap() error {
	return e.Err
}

// ProposeRequest carries the regenerated document and its review context.
type ProposeRequest struct {
	// Document is the full regenerated document content.
	Document []byte

	// Path is the repository-relative location of the document file.
	Path string

	// DiffSummary describes the change for the pull request body.
	DiffSummary string

	// Warnings are non-fatal findings surfaced to reviewers.
	Warnings []string
}

// Proposal is the durable outcome of a successful Propose: an open pull
// request staging the regenerated document.
type Proposal struct {
	// Branch is the ephemeral branch holding the commit.
	Branch string

	// CommitHash is the commit carrying the regenerated document.
	CommitHash string

	// PullRequestURL points reviewers at the open pull request.
	PullRequestURL string

	// BaseRevision is the protected branch tip the proposal was built on,
	// the known-good revision to roll back to if the merge goes wrong.
	BaseRevision string
}

// Manager owns the proposal state machine over the version control and pull
// request capabilities.
type Manager struct {
	vcs gitops.Client
	prs github.Client

	protected     string
	branchPrefix  string
	maxAttempts   int
	retryInterval time.Duration

	state State
}

// Option is a function that configures the manager
type Option func(*Manager)

// WithProtectedBranch sets the branch pull requests target.
func WithProtectedBranch(branch string) Option {
	return func(m *Manager) {
		if branch != "" {
			m.protected = branch
		}
	}
}

// WithBranchPrefix sets the namespace for ephemeral branches.
func WithBranchPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.branchPrefix = prefix
		}
	}
}

// WithMaxAttempts bounds tries for each remote operation.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRetryInterval seeds the backoff between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

// NewManager creates a manager with injected capabilities.
func NewManager(vcs gitops.Client, prs github.Client, opts ...Option) *Manager {
	m := &Manager{
		vcs:           vcs,
		prs:           prs,
		protected:     "main",
		branchPrefix:  DefaultBranchPrefix,
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
		state:         StateClean,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the state reached by the most recent operation.
func (m *Manager) State() State {
	return m.state
}

func (m *Manager) transition(to State) {
	slog.Debug("Workflow state changed", "from", string(m.state), "to", string(to))
	m.state = to
}

// DocumentHash returns the short content hash that identifies a document
// revision in branch names and run records.
func DocumentHash(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])[:branchHashLength]
}

// BranchName derives the branch name for a document. Identical documents
// always map to the same name, which is what makes the duplicate-branch
// check a concurrency guard.
func (m *Manager) BranchName(doc []byte) string {
	return m.branchPrefix + "/" + DocumentHash(doc)
}

// Propose stages the document on an ephemeral branch and opens a pull
// request into the protected branch. On any failure the partially staged
// work is unwound before returning. Returns ErrSyncInProgress when the
// derived branch already exists locally or on the remote.
func (m *Manager) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	m.state = StateClean

	// Refresh remote-tracking refs so both the duplicate-branch guard and
	// the base revision see the remote's view. Local-only repositories
	// proceed without it.
	if err := m.vcs.Fetch(ctx); err != nil {
		if !errors.Is(err, gitops.ErrRemoteMissing) {
			return nil, fmt.Errorf("failed to refresh remote refs: %w", err)
		}
		slog.Debug("No remote configured, skipping fetch")
	}

	branch := m.BranchName(req.Document)
	exists, err := m.vcs.BranchExists(branch)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing branch: %w", err)
	}
	if exists {
		staged, err := m.underReview(ctx, branch)
		if err != nil {
			// Cannot tell whether the branch is under review. Leave it
			// alone; the next run gets another chance.
			slog.Warn("Failed to check for an open pull request", "branch", branch, "error", err)
			return nil, fmt.Errorf("branch %s: %w", branch, ErrSyncInProgress)
		}
		if staged {
			return nil, fmt.Errorf("branch %s: %w", branch, ErrSyncInProgress)
		}
		// The branch is a leftover from a run that died before opening its
		// pull request. Clear it and stage the change again.
		slog.Info("Recovering branch abandoned by an earlier run", "branch", branch)
		if err := m.Abandon(ctx, branch); err != nil {
			return nil, fmt.Errorf("failed to recover abandoned branch %s: %w", branch, err)
		}
		m.state = StateClean
	}

	baseRevision, err := m.vcs.ProtectedTip()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve protected branch tip: %w", err)
	}
	originalBranch, err := m.vcs.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("failed to determine current branch: %w", err)
	}

	err = m.withRetry(ctx, "create branch", func() error {
		return m.vcs.CreateBranch(branch, baseRevision)
	})
	if err != nil {
		if errors.Is(err, gitops.ErrBranchExists) {
			return nil, fmt.Errorf("branch %s: %w", branch, ErrSyncInProgress)
		}
		return nil, fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	m.transition(StateBranchCreated)

	proposal, err := m.stage(ctx, req, branch, baseRevision)
	if err != nil {
		m.abandon(ctx, branch, originalBranch)
		return nil, err
	}

	// The pull request is open; a failure to restore the original branch
	// must not tear it down again.
	if err := m.vcs.CheckoutBranch(originalBranch, false); err != nil {
		slog.Warn("Failed to restore original branch", "branch", originalBranch, "error", err)
	}

	slog.Info("Proposal staged",
		"branch", branch,
		"commit", proposal.CommitHash,
		"pull_request", proposal.PullRequestURL,
		"base_revision", baseRevision)
	return proposal, nil
}

// stage runs the commit, push and pull request steps on an already-created
// branch. The caller unwinds on error.
func (m *Manager) stage(ctx context.Context, req ProposeRequest, branch, baseRevision string) (*Proposal, error) {
	if err := m.vcs.CheckoutBranch(branch, false); err != nil {
		return nil, fmt.Errorf("failed to checkout %s: %w", branch, err)
	}

	hash := DocumentHash(req.Document)
	title := fmt.Sprintf("Sync schema definitions (%s)", hash)

	var commit string
	err := m.withRetry(ctx, "commit document", func() error {
		var commitErr error
		commit, commitErr = m.vcs.CommitFile(req.Path, req.Document, title)
		return commitErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", req.Path, err)
	}
	m.transition(StateCommitted)

	err = m.withRetry(ctx, "push branch", func() error {
		return m.vcs.Push(ctx, branch, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to push %s: %w", branch, err)
	}

	var url string
	err = m.withRetry(ctx, "open pull request", func() error {
		// A pull request that survived an earlier interrupted run is
		// reused instead of duplicated.
		existing, err := m.prs.FindOpen(ctx, branch, m.protected)
		if err != nil {
			return err
		}
		if existing != nil {
			url = existing.URL
			return nil
		}
		created, err := m.prs.Create(ctx, github.CreateRequest{
			Head:  branch,
			Base:  m.protected,
			Title: title,
			Body:  buildBody(req, hash),
		})
		if err != nil {
			return err
		}
		url = created.URL
		return nil
	})
	if err != nil {
		return nil, &PRError{Err: fmt.Errorf("failed to open pull request for %s: %w", branch, err)}
	}
	m.transition(StatePullRequestOpen)

	return &Proposal{
		Branch:         branch,
		CommitHash:     commit,
		PullRequestURL: url,
		BaseRevision:   baseRevision,
	}, nil
}

// underReview reports whether an open pull request exists for the branch.
func (m *Manager) underReview(ctx context.Context, branch string) (bool, error) {
	existing, err := m.prs.FindOpen(ctx, branch, m.protected)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Abandon removes a staged branch that never reached review, locally and on
// the remote. Propose uses it to recover from a run that died between
// staging and opening its pull request; it also serves operators clearing a
// leftover by hand.
func (m *Manager) Abandon(ctx context.Context, branch string) error {
	// The dead run may have left the worktree on the branch; a checked-out
	// branch cannot be deleted.
	if current, err := m.vcs.CurrentBranch(); err == nil && current == branch {
		if err := m.vcs.CheckoutBranch(m.protected, true); err != nil {
			return fmt.Errorf("failed to leave branch %s: %w", branch, err)
		}
	}
	if err := m.vcs.DeleteBranch(branch); err != nil && !errors.Is(err, gitops.ErrBranchMissing) {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	err := m.vcs.DeleteRemoteBranch(ctx, branch)
	if err != nil && !errors.Is(err, gitops.ErrRemoteMissing) {
		return fmt.Errorf("failed to delete remote branch %s: %w", branch, err)
	}
	m.transition(StateAbandoned)
	return nil
}

// abandon unwinds a failed proposal: restore the original branch, then
// delete the ephemeral branch locally and remotely. Cleanup is best effort;
// a leftover branch surfaces as ErrSyncInProgress on the next run, never as
// corruption.
func (m *Manager) abandon(ctx context.Context, branch, originalBranch string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := m.vcs.CheckoutBranch(originalBranch, true); err != nil {
		slog.Warn("Failed to restore original branch during cleanup", "branch", originalBranch, "error", err)
	}
	if err := m.vcs.DeleteBranch(branch); err != nil && !errors.Is(err, gitops.ErrBranchMissing) {
		slog.Warn("Failed to delete branch during cleanup", "branch", branch, "error", err)
	}
	err := m.vcs.DeleteRemoteBranch(cleanupCtx, branch)
	if err != nil && !errors.Is(err, gitops.ErrRemoteMissing) {
		slog.Warn("Failed to delete remote branch during cleanup", "branch", branch, "error", err)
	}
	m.transition(StateAbandoned)
}

// Rollback force-moves the protected branch back to a known-good revision
// and removes staged branches, locally and on the remote. This is the only
// operation that writes the protected branch, and it exists for operators.
func (m *Manager) Rollback(ctx context.Context, revision string) error {
	if err := m.vcs.ResetBranchTo(m.protected, revision); err != nil {
		return fmt.Errorf("failed to reset %s to %s: %w", m.protected, revision, err)
	}

	err := m.withRetry(ctx, "push protected branch", func() error {
		return m.vcs.Push(ctx, m.protected, true)
	})
	if err != nil && !errors.Is(err, gitops.ErrRemoteMissing) {
		return fmt.Errorf("failed to push %s: %w", m.protected, err)
	}

	branches, err := m.vcs.ListBranches(m.branchPrefix + "/")
	if err != nil {
		return fmt.Errorf("failed to list staged branches: %w", err)
	}
	for _, branch := range branches {
		if err := m.vcs.DeleteBranch(branch); err != nil && !errors.Is(err, gitops.ErrBranchMissing) {
			slog.Warn("Failed to delete branch during rollback", "branch", branch, "error", err)
		}
		err := m.vcs.DeleteRemoteBranch(ctx, branch)
		if err != nil && !errors.Is(err, gitops.ErrRemoteMissing) {
			slog.Warn("Failed to delete remote branch during rollback", "branch", branch, "error", err)
		}
	}

	m.transition(StateRolledBack)
	slog.Info("Rolled back protected branch", "branch", m.protected, "revision", revision)
	return nil
}

// withRetry runs op with bounded exponential backoff. Errors that retrying
// cannot fix are permanent.
func (m *Manager) withRetry(ctx context.Context, name string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retryInterval

	operation := func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("Retrying operation", "operation", name, "error", err, "backoff", next)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(m.maxAttempts)),
		backoff.WithNotify(notify),
	)
	return err
}

// isPermanent reports whether retrying cannot fix the error: the repository
// state it describes will not change between attempts.
func isPermanent(err error) bool {
	for _, sentinel := range []error{
		gitops.ErrNotFastForward,
		gitops.ErrRemoteMissing,
		gitops.ErrBranchExists,
		gitops.ErrBranchMissing,
		gitops.ErrResolveFailed,
		gitops.ErrEmptyCommit,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// buildBody renders the pull request description.
func buildBody(req ProposeRequest, hash string) string {
	var b strings.Builder
	b.WriteString("Automated schema sync. Review the regenerated document and merge to apply.\n")

	if req.DiffSummary != "" {
		b.WriteString("\n## Changes\n\n```\n")
		b.WriteString(strings.TrimRight(req.DiffSummary, "\n"))
		b.WriteString("\n```\n")
	}
	if len(req.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, warning := range req.Warnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
	}

	fmt.Fprintf(&b, "\nDocument hash: `%s`\n", hash)
	return b.String()
}

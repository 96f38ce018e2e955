package gitops

import (
	"errors"
	"fmt"
)

// Sentinel errors for repository operations. Callers check them with
// errors.Is to branch on outcomes without parsing message text.

// ErrBranchExists is returned when creating a branch whose name is already taken,
// either locally or on the configured remote.
var ErrBranchExists = errors.New("branch already exists")

// ErrBranchMissing is returned when operating on a branch that does not exist.
var ErrBranchMissing = errors.New("branch does not exist")

// ErrNotFastForward is returned when a push is rejected because the remote
// branch has moved and the push was not forced.
var ErrNotFastForward = errors.New("not a fast-forward")

// ErrResolveFailed is returned when a revision cannot be resolved to a commit.
var ErrResolveFailed = errors.New("cannot resolve revision")

// ErrRemoteMissing is returned when the configured remote is not set up
// in the repository.
var ErrRemoteMissing = errors.New("remote not configured")

// ErrEmptyCommit is returned when a commit is requested but the staged
// content is identical to the current tree.
var ErrEmptyCommit = errors.New("nothing to commit")

// ErrDetachedHead is returned when an operation needs a current branch
// but HEAD does not point at one.
var ErrDetachedHead = errors.New("detached HEAD")

// WrapError wraps an error with additional context while keeping the
// wrapped chain intact for errors.Is checks.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while keeping
// the wrapped chain intact for errors.Is checks.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

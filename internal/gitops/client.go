package gitops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	// defaultProtectedBranch is assumed when Options does not name one.
	defaultProtectedBranch = "main"

	// defaultRemote is assumed when Options does not name one.
	defaultRemote = "origin"

	// DefaultAuthorName signs generated commits when no author is configured.
	DefaultAuthorName = "Schema Sync"

	// DefaultAuthorEmail signs generated commits when no author is configured.
	DefaultAuthorEmail = "schema-sync@localhost"
)

// Client defines the interface for version control operations against a
// local working clone. The protected branch is never written by any of the
// mutating methods except ResetBranchTo, which exists for operator-driven
// rollback.
type Client interface {
	// CurrentBranch returns the short name of the branch HEAD points at.
	CurrentBranch() (string, error)

	// ProtectedTip resolves the tip commit of the protected branch,
	// preferring the remote-tracking ref over the local one.
	ProtectedTip() (string, error)

	// BranchExists reports whether a branch exists locally or on the
	// configured remote's tracking refs.
	BranchExists(name string) (bool, error)

	// CreateBranch creates a local branch at the given revision without
	// checking it out. Returns ErrBranchExists if the name is taken.
	CreateBranch(name, revision string) error

	// CheckoutBranch switches the worktree to an existing local branch.
	// With force set, uncommitted changes in the worktree are discarded.
	CheckoutBranch(name string, force bool) error

	// CommitFile writes content to path inside the worktree, stages it and
	// commits it on the current branch. Returns the new commit hash, or
	// ErrEmptyCommit when the content matches the checked-in file.
	CommitFile(path string, content []byte, message string) (string, error)

	// DeleteBranch removes a local branch. The branch must not be checked out.
	DeleteBranch(name string) error

	// ListBranches returns the short names of local and remote-tracking
	// branches whose name starts with prefix, deduplicated and sorted.
	ListBranches(prefix string) ([]string, error)

	// ResetBranchTo moves a local branch to the given revision, hard-resetting
	// the worktree when the branch is currently checked out.
	ResetBranchTo(branch, revision string) error

	// Fetch updates remote-tracking refs from the configured remote,
	// pruning refs that no longer exist there.
	Fetch(ctx context.Context) error

	// Push publishes a local branch to the configured remote.
	Push(ctx context.Context, branch string, force bool) error

	// DeleteRemoteBranch removes a branch from the configured remote and
	// drops the local tracking ref for it.
	DeleteRemoteBranch(ctx context.Context, name string) error
}

// Options configures a repository client.
type Options struct {
	// ProtectedBranch is the branch that receives changes only through
	// reviewed pull requests. Defaults to "main".
	ProtectedBranch string

	// Remote is the name of the remote used for fetch and push. Defaults
	// to "origin".
	Remote string

	// AuthorName and AuthorEmail sign generated commits.
	AuthorName  string
	AuthorEmail string
}

// repoClient implements Client using go-git against an on-disk repository.
type repoClient struct {
	repo        *git.Repository
	protected   string
	remote      string
	authorName  string
	authorEmail string
}

var _ Client = (*repoClient)(nil)

// NewClient opens the repository at path and returns a client bound to it.
func NewClient(path string, opts Options) (Client, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, WrapErrorf(err, "failed to open repository at %s", path)
	}
	return NewClientFromRepo(repo, opts), nil
}

// NewClientFromRepo wraps an already-open repository. Useful for callers
// that build repositories in memory.
func NewClientFromRepo(repo *git.Repository, opts Options) Client {
	c := &repoClient{
		repo:        repo,
		protected:   opts.ProtectedBranch,
		remote:      opts.Remote,
		authorName:  opts.AuthorName,
		authorEmail: opts.AuthorEmail,
	}
	if c.protected == "" {
		c.protected = defaultProtectedBranch
	}
	if c.remote == "" {
		c.remote = defaultRemote
	}
	if c.authorName == "" {
		c.authorName = DefaultAuthorName
	}
	if c.authorEmail == "" {
		c.authorEmail = DefaultAuthorEmail
	}
	return c
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (c *repoClient) CurrentBranch() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to read HEAD")
	}
	if !head.Name().IsBranch() {
		return "", WrapErrorf(ErrDetachedHead, "HEAD points at %s", head.Name())
	}
	return head.Name().Short(), nil
}

// ProtectedTip resolves the tip commit of the protected branch.
func (c *repoClient) ProtectedTip() (string, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName(c.remote, c.protected),
		plumbing.NewBranchReferenceName(c.protected),
	}
	for _, name := range candidates {
		ref, err := c.repo.Reference(name, true)
		if err == nil {
			return ref.Hash().String(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", WrapErrorf(err, "failed to resolve %s", name)
		}
	}
	return "", WrapErrorf(ErrResolveFailed, "protected branch %s", c.protected)
}

// BranchExists reports whether a branch exists locally or on the remote.
func (c *repoClient) BranchExists(name string) (bool, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(name),
		plumbing.NewRemoteReferenceName(c.remote, name),
	}
	for _, refName := range candidates {
		_, err := c.repo.Reference(refName, false)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, WrapErrorf(err, "failed to check %s", refName)
		}
	}
	return false, nil
}

// CreateBranch creates a local branch at the given revision.
func (c *repoClient) CreateBranch(name, revision string) error {
	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := c.repo.Reference(branchRef, false); err == nil {
		return WrapErrorf(ErrBranchExists, "%s", name)
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return WrapErrorf(err, "failed to check branch %s", name)
	}

	hash, err := c.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return WrapErrorf(ErrResolveFailed, "revision %q", revision)
	}
	if err := c.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, *hash)); err != nil {
		return WrapErrorf(err, "failed to create branch %s", name)
	}
	slog.Debug("Created branch", "branch", name, "revision", hash.String())
	return nil
}

// CheckoutBranch switches the worktree to an existing local branch.
func (c *repoClient) CheckoutBranch(name string, force bool) error {
	wt, err := c.repo.Worktree()
	if err != nil {
		return WrapError(err, "failed to open worktree")
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  force,
	})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return WrapErrorf(ErrBranchMissing, "%s", name)
		}
		return WrapErrorf(err, "failed to checkout %s", name)
	}
	return nil
}

// CommitFile writes, stages and commits a single file on the current branch.
func (c *repoClient) CommitFile(path string, content []byte, message string) (string, error) {
	wt, err := c.repo.Worktree()
	if err != nil {
		return "", WrapError(err, "failed to open worktree")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := wt.Filesystem.MkdirAll(dir, 0o755); err != nil {
			return "", WrapErrorf(err, "failed to create directory %s", dir)
		}
	}
	if err := util.WriteFile(wt.Filesystem, path, content, 0o644); err != nil {
		return "", WrapErrorf(err, "failed to write %s", path)
	}
	if _, err := wt.Add(path); err != nil {
		return "", WrapErrorf(err, "failed to stage %s", path)
	}

	commit, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.authorName,
			Email: c.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", ErrEmptyCommit
		}
		return "", WrapError(err, "failed to commit")
	}
	slog.Debug("Created commit", "hash", commit.String(), "path", path)
	return commit.String(), nil
}

// DeleteBranch removes a local branch.
func (c *repoClient) DeleteBranch(name string) error {
	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := c.repo.Reference(branchRef, false); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return WrapErrorf(ErrBranchMissing, "%s", name)
		}
		return WrapErrorf(err, "failed to check branch %s", name)
	}

	if head, err := c.repo.Head(); err == nil && head.Name() == branchRef {
		return fmt.Errorf("cannot delete checked-out branch %s", name)
	}
	if err := c.repo.Storer.RemoveReference(branchRef); err != nil {
		return WrapErrorf(err, "failed to delete branch %s", name)
	}
	return nil
}

// ListBranches returns branch names with the given prefix.
func (c *repoClient) ListBranches(prefix string) ([]string, error) {
	refs, err := c.repo.References()
	if err != nil {
		return nil, WrapError(err, "failed to list references")
	}

	seen := make(map[string]struct{})
	var names []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		var short string
		switch {
		case ref.Name().IsBranch():
			short = ref.Name().Short()
		case ref.Name().IsRemote():
			// Short() keeps the remote name, e.g. "origin/branch".
			short = strings.TrimPrefix(ref.Name().Short(), c.remote+"/")
		default:
			return nil
		}
		if !strings.HasPrefix(short, prefix) {
			return nil
		}
		if _, ok := seen[short]; ok {
			return nil
		}
		seen[short] = struct{}{}
		names = append(names, short)
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to walk references")
	}

	sort.Strings(names)
	return names, nil
}

// ResetBranchTo moves a local branch to the given revision.
func (c *repoClient) ResetBranchTo(branch, revision string) error {
	hash, err := c.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return WrapErrorf(ErrResolveFailed, "revision %q", revision)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := c.repo.Reference(branchRef, false); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return WrapErrorf(ErrBranchMissing, "%s", branch)
		}
		return WrapErrorf(err, "failed to check branch %s", branch)
	}

	// A checked-out branch has to move through the worktree so the index
	// and files follow the ref.
	if head, err := c.repo.Head(); err == nil && head.Name() == branchRef {
		wt, err := c.repo.Worktree()
		if err != nil {
			return WrapError(err, "failed to open worktree")
		}
		if err := wt.Reset(&git.ResetOptions{Commit: *hash, Mode: git.HardReset}); err != nil {
			return WrapErrorf(err, "failed to reset %s", branch)
		}
		return nil
	}

	if err := c.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, *hash)); err != nil {
		return WrapErrorf(err, "failed to move branch %s", branch)
	}
	return nil
}

// Fetch updates remote-tracking refs from the configured remote.
func (c *repoClient) Fetch(ctx context.Context) error {
	err := c.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: c.remote,
		Prune:      true,
		Tags:       git.NoTags,
	})
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if errors.Is(err, git.ErrRemoteNotFound) {
		return WrapErrorf(ErrRemoteMissing, "%s", c.remote)
	}
	return WrapError(err, "failed to fetch")
}

// Push publishes a local branch to the configured remote.
func (c *repoClient) Push(ctx context.Context, branch string, force bool) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: c.remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Force:      force,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return WrapErrorf(ErrNotFastForward, "branch %s", branch)
	case errors.Is(err, git.ErrRemoteNotFound):
		return WrapErrorf(ErrRemoteMissing, "%s", c.remote)
	default:
		return WrapErrorf(err, "failed to push %s", branch)
	}
}

// DeleteRemoteBranch removes a branch from the configured remote.
func (c *repoClient) DeleteRemoteBranch(ctx context.Context, name string) error {
	spec := gitconfig.RefSpec(":refs/heads/" + name)
	err := c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: c.remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return WrapErrorf(ErrRemoteMissing, "%s", c.remote)
		}
		return WrapErrorf(err, "failed to delete remote branch %s", name)
	}

	// Drop the tracking ref so BranchExists does not keep reporting the
	// branch until the next prune.
	trackingRef := plumbing.NewRemoteReferenceName(c.remote, name)
	_ = c.repo.Storer.RemoveReference(trackingRef)
	return nil
}

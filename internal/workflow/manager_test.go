package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eavops/schema-sync/internal/github"
	"github.com/eavops/schema-sync/internal/gitops"
	"github.com/eavops/schema-sync/internal/workflow"
)

type pushCall struct {
	branch string
	force  bool
}

// fakeVCS implements gitops.Client in memory. Branch maps double as the
// repository state the assertions inspect.
type fakeVCS struct {
	current        string
	branches       map[string]string
	remoteBranches map[string]string
	protectedTip   string

	commits []string
	pushes  []pushCall
	calls   []string

	fetchErr    error
	checkoutErr error
	commitErr   error
	failCommits int
	failPushes  int
	pushErr     error
}

var _ gitops.Client = (*fakeVCS)(nil)

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		current:        "main",
		branches:       map[string]string{"main": "base0"},
		remoteBranches: map[string]string{},
		protectedTip:   "base0",
	}
}

func (f *fakeVCS) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeVCS) countCalls(prefix string) int {
	n := 0
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeVCS) CurrentBranch() (string, error) {
	return f.current, nil
}

func (f *fakeVCS) ProtectedTip() (string, error) {
	return f.protectedTip, nil
}

func (f *fakeVCS) BranchExists(name string) (bool, error) {
	if _, ok := f.branches[name]; ok {
		return true, nil
	}
	if _, ok := f.remoteBranches[name]; ok {
		return true, nil
	}
	return false, nil
}

func (f *fakeVCS) CreateBranch(name, revision string) error {
	f.record("create " + name)
	if _, ok := f.branches[name]; ok {
		return gitops.ErrBranchExists
	}
	f.branches[name] = revision
	return nil
}

func (f *fakeVCS) CheckoutBranch(name string, force bool) error {
	f.record(fmt.Sprintf("checkout %s force=%t", name, force))
	if f.checkoutErr != nil && !force {
		return f.checkoutErr
	}
	if _, ok := f.branches[name]; !ok {
		return gitops.ErrBranchMissing
	}
	f.current = name
	return nil
}

func (f *fakeVCS) CommitFile(path string, _ []byte, message string) (string, error) {
	f.record("commit " + path)
	if f.failCommits > 0 {
		f.failCommits--
		return "", errors.New("index locked")
	}
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.commits = append(f.commits, message)
	hash := "commit" + strconv.Itoa(len(f.commits))
	f.branches[f.current] = hash
	return hash, nil
}

func (f *fakeVCS) DeleteBranch(name string) error {
	f.record("delete " + name)
	if _, ok := f.branches[name]; !ok {
		return gitops.ErrBranchMissing
	}
	if f.current == name {
		return errors.New("cannot delete checked-out branch " + name)
	}
	delete(f.branches, name)
	return nil
}

func (f *fakeVCS) ListBranches(prefix string) ([]string, error) {
	seen := map[string]struct{}{}
	var names []string
	for name := range f.branches {
		if strings.HasPrefix(name, prefix) {
			seen[name] = struct{}{}
		}
	}
	for name := range f.remoteBranches {
		if strings.HasPrefix(name, prefix) {
			seen[name] = struct{}{}
		}
	}
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeVCS) ResetBranchTo(branch, revision string) error {
	f.record("reset " + branch + " " + revision)
	if _, ok := f.branches[branch]; !ok {
		return gitops.ErrBranchMissing
	}
	f.branches[branch] = revision
	return nil
}

func (f *fakeVCS) Fetch(context.Context) error {
	f.record("fetch")
	return f.fetchErr
}

func (f *fakeVCS) Push(_ context.Context, branch string, force bool) error {
	f.record("push " + branch)
	if f.failPushes > 0 {
		f.failPushes--
		if f.pushErr != nil {
			return f.pushErr
		}
		return errors.New("remote hung up")
	}
	f.pushes = append(f.pushes, pushCall{branch: branch, force: force})
	f.remoteBranches[branch] = f.branches[branch]
	return nil
}

func (f *fakeVCS) DeleteRemoteBranch(_ context.Context, name string) error {
	f.record("delete-remote " + name)
	delete(f.remoteBranches, name)
	return nil
}

// fakePRs implements github.Client in memory.
type fakePRs struct {
	open    map[string]*github.PullRequest
	created []github.CreateRequest

	findErr     error
	failCreates int
	createErr   error
}

var _ github.Client = (*fakePRs)(nil)

func newFakePRs() *fakePRs {
	return &fakePRs{open: map[string]*github.PullRequest{}}
}

func (f *fakePRs) CheckAuth(context.Context) error {
	return nil
}

func (f *fakePRs) FindOpen(_ context.Context, head, _ string) (*github.PullRequest, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.open[head], nil
}

func (f *fakePRs) Create(_ context.Context, req github.CreateRequest) (*github.PullRequest, error) {
	if f.failCreates > 0 {
		f.failCreates--
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	pr := &github.PullRequest{
		Number: len(f.created),
		URL:    "https://github.com/acme/data/pull/" + strconv.Itoa(len(f.created)),
		Title:  req.Title,
		State:  "OPEN",
	}
	f.open[req.Head] = pr
	return pr, nil
}

func (f *fakePRs) View(_ context.Context, head string) (*github.PullRequest, error) {
	return f.open[head], nil
}

func newManager(vcs *fakeVCS, prs *fakePRs) *workflow.Manager {
	return workflow.NewManager(vcs, prs,
		workflow.WithProtectedBranch("main"),
		workflow.WithRetryInterval(time.Millisecond),
	)
}

var testDoc = []byte("tables:\n  \"10\":\n    name: tasks\n")

func testRequest() workflow.ProposeRequest {
	return workflow.ProposeRequest{
		Document:    testDoc,
		Path:        "schema/tables.yaml",
		DiffSummary: "1 table changed",
		Warnings:    []string{`override references unknown table "legacy"`},
	}
}

func TestProposeOpensPullRequest(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	proposal, err := mgr.Propose(context.Background(), testRequest())
	require.NoError(t, err)

	wantBranch := "schema-sync/" + workflow.DocumentHash(testDoc)
	assert.Equal(t, wantBranch, proposal.Branch)
	assert.Equal(t, "https://github.com/acme/data/pull/1", proposal.PullRequestURL)
	assert.Equal(t, "commit1", proposal.CommitHash)
	assert.Equal(t, "base0", proposal.BaseRevision)
	assert.Equal(t, workflow.StatePullRequestOpen, mgr.State())

	// The worktree is back where it started and the staged branch survives
	// for the reviewer.
	assert.Equal(t, "main", vcs.current)
	assert.Contains(t, vcs.branches, wantBranch)
	assert.Contains(t, vcs.remoteBranches, wantBranch)

	require.Len(t, prs.created, 1)
	req := prs.created[0]
	assert.Equal(t, wantBranch, req.Head)
	assert.Equal(t, "main", req.Base)
	assert.Contains(t, req.Title, workflow.DocumentHash(testDoc))
	assert.Contains(t, req.Body, "1 table changed")
	assert.Contains(t, req.Body, `override references unknown table "legacy"`)
	assert.Contains(t, req.Body, workflow.DocumentHash(testDoc))

	require.Len(t, vcs.commits, 1)
	assert.Equal(t, req.Title, vcs.commits[0])

	// The protected branch is never pushed by a proposal.
	for _, push := range vcs.pushes {
		assert.NotEqual(t, "main", push.branch)
		assert.False(t, push.force)
	}
}

func TestProposeDuplicateBranchMeansInProgress(t *testing.T) {
	t.Parallel()

	branch := "schema-sync/" + workflow.DocumentHash(testDoc)

	tests := []struct {
		name string
		seed func(vcs *fakeVCS)
	}{
		{
			name: "local branch",
			seed: func(vcs *fakeVCS) { vcs.branches[branch] = "base0" },
		},
		{
			name: "remote branch",
			seed: func(vcs *fakeVCS) { vcs.remoteBranches[branch] = "base0" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			vcs := newFakeVCS()
			tt.seed(vcs)
			prs := newFakePRs()
			prs.open[branch] = &github.PullRequest{Number: 9, URL: "https://github.com/acme/data/pull/9", State: "OPEN"}
			mgr := newManager(vcs, prs)

			_, err := mgr.Propose(context.Background(), testRequest())
			require.ErrorIs(t, err, workflow.ErrSyncInProgress)
			assert.Equal(t, workflow.StateClean, mgr.State())

			// Nothing was staged, published or torn down.
			assert.Zero(t, vcs.countCalls("create"))
			assert.Zero(t, vcs.countCalls("push"))
			assert.Zero(t, vcs.countCalls("delete"))
			assert.Empty(t, prs.created)
		})
	}
}

func TestProposeRecoversBranchWithoutPullRequest(t *testing.T) {
	t.Parallel()

	branch := "schema-sync/" + workflow.DocumentHash(testDoc)

	tests := []struct {
		name string
		seed func(vcs *fakeVCS)
	}{
		{
			name: "local leftover",
			seed: func(vcs *fakeVCS) { vcs.branches[branch] = "stale0" },
		},
		{
			name: "pushed leftover",
			seed: func(vcs *fakeVCS) {
				vcs.branches[branch] = "stale0"
				vcs.remoteBranches[branch] = "stale0"
			},
		},
		{
			name: "leftover still checked out",
			seed: func(vcs *fakeVCS) {
				vcs.branches[branch] = "stale0"
				vcs.current = branch
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			vcs := newFakeVCS()
			tt.seed(vcs)
			prs := newFakePRs()
			mgr := newManager(vcs, prs)

			// No pull request is open for the branch: the run that staged
			// it died, so this run clears it and stages the change again.
			proposal, err := mgr.Propose(context.Background(), testRequest())
			require.NoError(t, err)

			assert.Equal(t, branch, proposal.Branch)
			assert.Equal(t, workflow.StatePullRequestOpen, mgr.State())
			require.Len(t, prs.created, 1)

			// The restaged branch was rebuilt from the protected tip, not
			// the leftover revision.
			assert.NotEqual(t, "stale0", vcs.branches[branch])
			assert.NotEqual(t, "stale0", vcs.remoteBranches[branch])
		})
	}
}

func TestProposeLeavesBranchWhenReviewCheckFails(t *testing.T) {
	t.Parallel()

	branch := "schema-sync/" + workflow.DocumentHash(testDoc)
	vcs := newFakeVCS()
	vcs.branches[branch] = "stale0"
	prs := newFakePRs()
	prs.findErr = errors.New("gh unreachable")
	mgr := newManager(vcs, prs)

	_, err := mgr.Propose(context.Background(), testRequest())
	require.ErrorIs(t, err, workflow.ErrSyncInProgress)

	// The branch might be under review; with the platform unreachable it
	// must not be destroyed.
	assert.Contains(t, vcs.branches, branch)
	assert.Zero(t, vcs.countCalls("delete"))
	assert.Empty(t, prs.created)
}

func TestAbandon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkedOut bool
	}{
		{name: "branch not checked out"},
		{name: "branch checked out", checkedOut: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			vcs := newFakeVCS()
			vcs.branches["schema-sync/leftover"] = "stale0"
			vcs.remoteBranches["schema-sync/leftover"] = "stale0"
			if tt.checkedOut {
				vcs.current = "schema-sync/leftover"
			}
			mgr := newManager(vcs, newFakePRs())

			require.NoError(t, mgr.Abandon(context.Background(), "schema-sync/leftover"))

			assert.NotContains(t, vcs.branches, "schema-sync/leftover")
			assert.NotContains(t, vcs.remoteBranches, "schema-sync/leftover")
			assert.Equal(t, "main", vcs.current)
			assert.Equal(t, workflow.StateAbandoned, mgr.State())
		})
	}
}

func TestAbandonMissingBranchIsNotAnError(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	mgr := newManager(vcs, newFakePRs())

	require.NoError(t, mgr.Abandon(context.Background(), "schema-sync/gone"))
	assert.Equal(t, workflow.StateAbandoned, mgr.State())
}

func TestProposeReusesSurvivingPullRequest(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	prs := newFakePRs()
	branch := "schema-sync/" + workflow.DocumentHash(testDoc)
	prs.open[branch] = &github.PullRequest{Number: 42, URL: "https://github.com/acme/data/pull/42", State: "OPEN"}
	mgr := newManager(vcs, prs)

	proposal, err := mgr.Propose(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/data/pull/42", proposal.PullRequestURL)
	assert.Empty(t, prs.created)
}

func TestProposeRetriesPush(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.failPushes = 2
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	proposal, err := mgr.Propose(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, proposal.PullRequestURL)
	assert.Equal(t, 3, vcs.countCalls("push "))
}

func TestProposeRetriesCommit(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.failCommits = 1
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	proposal, err := mgr.Propose(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, vcs.countCalls("commit"))
	assert.Equal(t, "https://github.com/acme/data/pull/1", proposal.PullRequestURL)
	assert.Equal(t, workflow.StatePullRequestOpen, mgr.State())
}

func TestProposeDoesNotRetryEmptyCommit(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.commitErr = gitops.ErrEmptyCommit
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	_, err := mgr.Propose(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, 1, vcs.countCalls("commit"))
	assert.Equal(t, workflow.StateAbandoned, mgr.State())
	assert.Empty(t, prs.created)
}

func TestProposeAbandonsAfterPushRetriesExhausted(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.failPushes = 3
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	_, err := mgr.Propose(context.Background(), testRequest())
	require.Error(t, err)

	var prErr *workflow.PRError
	assert.False(t, errors.As(err, &prErr))
	assert.Equal(t, 3, vcs.countCalls("push "))
	assert.Equal(t, workflow.StateAbandoned, mgr.State())

	// Cleanup restored the original branch and removed the staged branch.
	branch := "schema-sync/" + workflow.DocumentHash(testDoc)
	assert.Equal(t, "main", vcs.current)
	assert.NotContains(t, vcs.branches, branch)
	assert.NotContains(t, vcs.remoteBranches, branch)
	assert.Empty(t, prs.created)
}

func TestProposeDoesNotRetryNonFastForward(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.failPushes = 1
	vcs.pushErr = gitops.ErrNotFastForward
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	_, err := mgr.Propose(context.Background(), testRequest())
	require.ErrorIs(t, err, gitops.ErrNotFastForward)
	assert.Equal(t, 1, vcs.countCalls("push "))
	assert.Equal(t, workflow.StateAbandoned, mgr.State())
}

func TestProposeClassifiesPullRequestFailure(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	prs := newFakePRs()
	prs.failCreates = 3
	prs.createErr = errors.New("api unavailable")
	mgr := newManager(vcs, prs)

	_, err := mgr.Propose(context.Background(), testRequest())
	require.Error(t, err)

	var prErr *workflow.PRError
	require.ErrorAs(t, err, &prErr)
	assert.Equal(t, workflow.StateAbandoned, mgr.State())

	// The pushed branch was withdrawn when the pull request never opened.
	branch := "schema-sync/" + workflow.DocumentHash(testDoc)
	assert.NotContains(t, vcs.branches, branch)
	assert.NotContains(t, vcs.remoteBranches, branch)
	assert.Equal(t, "main", vcs.current)
}

func TestProposeCleansUpAfterCommitFailure(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.commitErr = errors.New("disk full")
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	_, err := mgr.Propose(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	branch := "schema-sync/" + workflow.DocumentHash(testDoc)
	assert.Equal(t, "main", vcs.current)
	assert.NotContains(t, vcs.branches, branch)
	assert.Equal(t, workflow.StateAbandoned, mgr.State())
	assert.Zero(t, vcs.countCalls("push "))
}

func TestProposeFetchBehavior(t *testing.T) {
	t.Parallel()

	t.Run("fetch failure aborts the run", func(t *testing.T) {
		t.Parallel()

		vcs := newFakeVCS()
		vcs.fetchErr = errors.New("connection reset")
		mgr := newManager(vcs, newFakePRs())

		_, err := mgr.Propose(context.Background(), testRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to refresh remote refs")
		assert.Zero(t, vcs.countCalls("create"))
	})

	t.Run("missing remote is tolerated", func(t *testing.T) {
		t.Parallel()

		vcs := newFakeVCS()
		vcs.fetchErr = gitops.ErrRemoteMissing
		mgr := newManager(vcs, newFakePRs())

		proposal, err := mgr.Propose(context.Background(), testRequest())
		require.NoError(t, err)
		assert.NotEmpty(t, proposal.PullRequestURL)
	})
}

func TestRollback(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.branches["main"] = "bad4"
	vcs.branches["schema-sync/aaa111"] = "bad4"
	vcs.remoteBranches["schema-sync/aaa111"] = "bad4"
	vcs.remoteBranches["schema-sync/bbb222"] = "bad4"
	prs := newFakePRs()
	mgr := newManager(vcs, prs)

	require.NoError(t, mgr.Rollback(context.Background(), "good3"))

	assert.Equal(t, "good3", vcs.branches["main"])
	assert.Equal(t, workflow.StateRolledBack, mgr.State())

	// The protected branch went out with force, staged branches are gone.
	require.NotEmpty(t, vcs.pushes)
	last := vcs.pushes[len(vcs.pushes)-1]
	assert.Equal(t, pushCall{branch: "main", force: true}, last)
	assert.NotContains(t, vcs.branches, "schema-sync/aaa111")
	assert.NotContains(t, vcs.remoteBranches, "schema-sync/aaa111")
	assert.NotContains(t, vcs.remoteBranches, "schema-sync/bbb222")
}

func TestRollbackMissingProtectedBranch(t *testing.T) {
	t.Parallel()

	vcs := newFakeVCS()
	vcs.branches = map[string]string{}
	mgr := newManager(vcs, newFakePRs())

	err := mgr.Rollback(context.Background(), "good3")
	require.Error(t, err)
	assert.ErrorIs(t, err, gitops.ErrBranchMissing)
}

func TestBranchNameIsContentAddressed(t *testing.T) {
	t.Parallel()

	mgr := workflow.NewManager(newFakeVCS(), newFakePRs())

	first := mgr.BranchName([]byte("tables: {}\n"))
	second := mgr.BranchName([]byte("tables: {}\n"))
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "schema-sync/"))

	other := mgr.BranchName([]byte("tables:\n  \"10\": {}\n"))
	assert.NotEqual(t, first, other)

	hash := workflow.DocumentHash([]byte("tables: {}\n"))
	assert.Len(t, hash, 12)
	assert.Equal(t, strings.ToLower(hash), hash)

	custom := workflow.NewManager(newFakeVCS(), newFakePRs(), workflow.WithBranchPrefix("schema-bot"))
	assert.True(t, strings.HasPrefix(custom.BranchName([]byte("x")), "schema-bot/"))
}

func TestStateForPullRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prState string
		want    workflow.State
	}{
		{"MERGED", workflow.StateMerged},
		{"merged", workflow.StateMerged},
		{"OPEN", workflow.StatePullRequestOpen},
		{"CLOSED", workflow.StateAbandoned},
		{"", workflow.StateClean},
	}
	for _, tt := range tests {
		t.Run("state "+tt.prState, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, workflow.StateForPullRequest(tt.prState))
		})
	}
}

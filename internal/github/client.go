package github

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// prFields is the field list requested from gh's JSON output.
const prFields = "number,url,title,state"

// Client defines the interface for pull request operations
type Client interface {
	// CheckAuth verifies that the gh CLI is installed and authenticated.
	CheckAuth(ctx context.Context) error

	// FindOpen returns the open pull request from head into base, or nil
	// when there is none.
	FindOpen(ctx context.Context, head, base string) (*PullRequest, error)

	// Create opens a new pull request and returns it.
	Create(ctx context.Context, req CreateRequest) (*PullRequest, error)

	// View returns the newest pull request for the given head branch in any
	// state, or nil when the branch never had one.
	View(ctx context.Context, head string) (*PullRequest, error)
}

// Runner executes a gh invocation inside a repository directory. It exists
// so tests can stand in for the real binary.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// execRunner shells out to the real gh binary.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &CommandError{Args: args, Output: string(output), Err: err}
	}
	return output, nil
}

// cliClient implements Client using the gh CLI, which carries its own
// authentication and picks the target repository up from the clone's remote.
type cliClient struct {
	runner Runner
	dir    string
}

var _ Client = (*cliClient)(nil)

// NewClient creates a client that runs gh inside the given repository path.
func NewClient(repoPath string) Client {
	return NewClientWithRunner(repoPath, execRunner{})
}

// NewClientWithRunner creates a client with a custom command runner.
func NewClientWithRunner(repoPath string, runner Runner) Client {
	return &cliClient{runner: runner, dir: repoPath}
}

// CheckAuth verifies that the gh CLI is installed and authenticated.
func (c *cliClient) CheckAuth(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.dir, "auth", "status"); err != nil {
		return fmt.Errorf("gh is not authenticated, run 'gh auth login': %w", err)
	}
	return nil
}

// FindOpen returns the open pull request from head into base, or nil.
func (c *cliClient) FindOpen(ctx context.Context, head, base string) (*PullRequest, error) {
	output, err := c.runner.Run(ctx, c.dir, "pr", "list",
		"--head", head,
		"--base", base,
		"--state", "open",
		"--json", prFields,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}

	parsed := gjson.ParseBytes(output)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("unexpected gh pr list output: %s", strings.TrimSpace(string(output)))
	}
	items := parsed.Array()
	if len(items) == 0 {
		return nil, nil
	}
	return prFromJSON(items[0]), nil
}

// Create opens a new pull request. gh prints the new URL on success.
func (c *cliClient) Create(ctx context.Context, req CreateRequest) (*PullRequest, error) {
	output, err := c.runner.Run(ctx, c.dir, "pr", "create",
		"--head", req.Head,
		"--base", req.Base,
		"--title", req.Title,
		"--body", req.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	url := strings.TrimSpace(string(output))
	return &PullRequest{
		Number: numberFromURL(url),
		URL:    url,
		Title:  req.Title,
		State:  "OPEN",
	}, nil
}

// View returns the newest pull request for the given head branch.
func (c *cliClient) View(ctx context.Context, head string) (*PullRequest, error) {
	output, err := c.runner.Run(ctx, c.dir, "pr", "view", head, "--json", prFields)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Output, "no pull requests found") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to view pull request: %w", err)
	}
	return prFromJSON(gjson.ParseBytes(output)), nil
}

func prFromJSON(item gjson.Result) *PullRequest {
	return &PullRequest{
		Number: int(item.Get("number").Int()),
		URL:    item.Get("url").String(),
		Title:  item.Get("title").String(),
		State:  item.Get("state").String(),
	}
}

// numberFromURL extracts the pull request number from a URL such as
// https://github.com/org/repo/pull/123.
func numberFromURL(url string) int {
	parts := strings.Split(url, "/")
	if len(parts) == 0 {
		return 0
	}
	number, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return number
}

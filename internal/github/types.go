package github

import (
	"fmt"
	"strings"
)

// PullRequest describes a pull request as reported by the gh CLI.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// CreateRequest carries the fields needed to open a pull request.
type CreateRequest struct {
	// Head is the branch holding the proposed change.
	Head string

	// Base is the branch the pull request targets.
	Base string

	Title string
	Body  string
}

// CommandError reports a failed gh invocation together with its combined
// output, which is where gh prints the actual reason.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("gh %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("gh %s failed: %s", strings.Join(e.Args, " "), out)
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

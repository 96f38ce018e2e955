// Package sync owns the run lifecycle: the Result taxonomy every consumer
// switches on, the Orchestrator that sequences one run from schema fetch to
// staged pull request, and the Coordinator that repeats runs in watch mode.
//
// The orchestrator is the error boundary of the program. Fatal errors from
// any collaborator are classified into a Result here, a recovered panic
// included, and every run ends with exactly one heartbeat whatever path it
// took.
package sync

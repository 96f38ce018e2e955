package app

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/eavops/schema-sync/internal/config"
	"github.com/eavops/schema-sync/internal/github"
	"github.com/eavops/schema-sync/internal/gitops"
	"github.com/eavops/schema-sync/internal/heartbeat"
	"github.com/eavops/schema-sync/internal/schema"
	"github.com/eavops/schema-sync/internal/status"
	"github.com/eavops/schema-sync/internal/sync"
	"github.com/eavops/schema-sync/internal/workflow"
)

// loadConfig reads the configuration from --config or the XDG default.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Debug("Loaded configuration", "path", path, "endpoint", cfg.Source.Endpoint)
	return cfg, nil
}

// buildManager wires the workflow manager over the configured working clone.
func buildManager(cfg *config.Config) (*workflow.Manager, github.Client, gitops.Client, error) {
	vcs, err := gitops.NewClient(cfg.Repository.Path, gitops.Options{
		ProtectedBranch: cfg.Repository.GetProtectedBranch(),
		Remote:          cfg.Repository.GetRemote(),
		AuthorName:      cfg.Repository.AuthorName,
		AuthorEmail:     cfg.Repository.AuthorEmail,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	prs := github.NewClient(cfg.Repository.Path)
	mgr := workflow.NewManager(vcs, prs,
		workflow.WithProtectedBranch(cfg.Repository.GetProtectedBranch()),
	)
	return mgr, prs, vcs, nil
}

// runOptions carries per-invocation overrides of the configured paths.
// Paths are repository-relative, like their config file counterparts.
type runOptions struct {
	dryRun        bool
	overridesPath string
	documentPath  string
}

// buildOrchestrator assembles a full run pipeline from the configuration.
func buildOrchestrator(cfg *config.Config, opts runOptions) (*sync.Orchestrator, github.Client, error) {
	source, err := schema.NewAPISource(&cfg.Source)
	if err != nil {
		return nil, nil, err
	}

	mgr, prs, _, err := buildManager(cfg)
	if err != nil {
		return nil, nil, err
	}

	overridesPath := cfg.Overrides.Path
	if opts.overridesPath != "" {
		overridesPath = opts.overridesPath
	}
	documentPath := cfg.Repository.DocumentPath
	if opts.documentPath != "" {
		documentPath = opts.documentPath
	}

	deps := sync.Deps{
		Source:        source,
		Proposer:      mgr,
		Reporter:      heartbeat.NewReporter(cfg.Heartbeat),
		Status:        buildStatusStore(),
		OverridesPath: resolveRepoPath(cfg, overridesPath),
		DocumentFile:  resolveRepoPath(cfg, documentPath),
		DocumentPath:  documentPath,
		DryRun:        opts.dryRun,
	}
	return sync.NewOrchestrator(deps), prs, nil
}

// buildStatusStore resolves the run record location. Failure disables the
// record rather than the run.
func buildStatusStore() status.Store {
	path, err := status.DefaultPath()
	if err != nil {
		slog.Warn("Run records disabled", "error", err)
		return nil
	}
	return status.NewFileStore(path)
}

// resolveRepoPath anchors a repository-relative path at the working clone.
// Absolute paths and empty paths pass through unchanged.
func resolveRepoPath(cfg *config.Config, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.Repository.Path, path)
}

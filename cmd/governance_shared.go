package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/config"
	"github.com/core-governance/core/internal/governance/auditctx"
	"github.com/core-governance/core/internal/governance/catalog"
	"github.com/core-governance/core/internal/governance/checks"
	"github.com/core-governance/core/internal/governance/docparse"
	"github.com/core-governance/core/internal/governance/ledger"
	"github.com/core-governance/core/internal/governance/registry"
)

// governanceEnv bundles everything a check/governance/code subcommand
// needs to run: the detected repository root, the loaded Policy
// Registry, the assembled built-in Catalog, and an Audit Context wired
// to a lazily-opened ledger session factory.
type governanceEnv struct {
	Fs          afero.Fs
	RepoRoot    string
	ReportsRoot string
	Registry    *registry.Registry
	Catalog     *catalog.Catalog
	AuditCtx    *auditctx.Context
	ledger      *ledger.Ledger
}

// newGovernanceEnv detects the constitutional root, loads the policy
// registry, and binds the built-in check catalog against it. Callers
// must call Close when done to release the ledger database.
func newGovernanceEnv(ctx context.Context) (*governanceEnv, error) {
	if _, err := config.DetectAndSetProjectContext(); err != nil {
		return nil, fmt.Errorf("detect project root: %w", err)
	}
	repoRoot, err := config.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	reportsRoot, err := config.GetReportsBasePath()
	if err != nil {
		return nil, fmt.Errorf("resolve reports path: %w", err)
	}

	fs := afero.NewOsFs()
	policiesRoot := filepath.Join(repoRoot, ".intent", "policies")

	parsers := docparse.NewRegistry()
	reg, err := registry.Load(fs, policiesRoot, parsers)
	if err != nil {
		return nil, fmt.Errorf("load policy registry: %w", err)
	}

	env := &governanceEnv{
		Fs:          fs,
		RepoRoot:    repoRoot,
		ReportsRoot: reportsRoot,
		Registry:    reg,
	}

	if err := os.MkdirAll(reportsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create reports directory: %w", err)
	}

	ledgerPath := filepath.Join(reportsRoot, "ledger.db")
	ldg, err := ledger.Open(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("open action ledger: %w", err)
	}
	env.ledger = ldg

	cat, err := checks.RegisterBuiltins(reg, fs, policiesRoot, nil)
	if err != nil {
		_ = ldg.Close()
		return nil, fmt.Errorf("register built-in checks: %w", err)
	}
	env.Catalog = cat

	env.AuditCtx = auditctx.New(fs, repoRoot, nil, func(ctx context.Context) (ledger.Session, error) {
		return ldg.NewSession(ctx)
	})

	return env, nil
}

// Close releases the ledger database underlying this environment.
func (e *governanceEnv) Close() error {
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Close()
}

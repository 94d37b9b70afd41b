// Package auditctx implements the Audit Context (C3): the read-only
// carrier threaded through every check invocation. It centralizes
// logical-name-to-path resolution and lazily loads the Knowledge Graph
// Mirror at most once per run, per spec.md §4.3/§9.
package auditctx

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/kg"
	"github.com/core-governance/core/internal/governance/ledger"
)

// PathResolver centralizes every logical-name -> path translation so
// checks never build paths by string concatenation against the repo
// root (spec.md §9).
type PathResolver struct {
	repoRoot   string
	intentRoot string
}

// NewPathResolver returns a resolver rooted at repoRoot, with the
// constitutional root at repoRoot/.intent.
func NewPathResolver(repoRoot string) *PathResolver {
	return &PathResolver{repoRoot: repoRoot, intentRoot: filepath.Join(repoRoot, ".intent")}
}

// Source resolves a logical path under the source tree (src/...).
func (p *PathResolver) Source(parts ...string) string {
	return filepath.Join(append([]string{p.repoRoot, "src"}, parts...)...)
}

// Tests resolves a logical path under the mirrored tests tree.
func (p *PathResolver) Tests(parts ...string) string {
	return filepath.Join(append([]string{p.repoRoot, "tests"}, parts...)...)
}

// Policies resolves a logical path under the constitutional policies
// subdirectory.
func (p *PathResolver) Policies(parts ...string) string {
	return filepath.Join(append([]string{p.intentRoot, "policies"}, parts...)...)
}

// Reports resolves a logical path under the durable reports directory.
func (p *PathResolver) Reports(parts ...string) string {
	return filepath.Join(append([]string{p.intentRoot, "reports"}, parts...)...)
}

// IntentRoot returns the constitutional root directory.
func (p *PathResolver) IntentRoot() string { return p.intentRoot }

// RepoRoot returns the repository root.
func (p *PathResolver) RepoRoot() string { return p.repoRoot }

// LedgerFactory constructs a ledger.Session on demand; the Context
// never holds a session across a suspension point (spec.md §5) — each
// workflow-gate check acquires and releases its own.
type LedgerFactory func(ctx context.Context) (ledger.Session, error)

// Context is the Audit Context (C3): carries the filesystem, resolved
// paths, and a lazily-loaded Knowledge Graph Mirror.
type Context struct {
	Fs            afero.Fs
	RepoRoot      string
	IntentRoot    string
	PathResolver  *PathResolver
	LedgerFactory LedgerFactory

	priorExecutedRuleIDs []string

	kgOnce sync.Once
	kgSnap *kg.Snapshot
	kgErr  error
}

// New constructs an Audit Context rooted at repoRoot, with
// priorExecutedRuleIDs seeding the Knowledge Graph Mirror's delta-
// analysis view (spec.md §4.8) once it is loaded.
func New(fs afero.Fs, repoRoot string, priorExecutedRuleIDs []string, ledgerFactory LedgerFactory) *Context {
	resolver := NewPathResolver(repoRoot)
	return &Context{
		Fs:                   fs,
		RepoRoot:             repoRoot,
		IntentRoot:           resolver.IntentRoot(),
		PathResolver:         resolver,
		LedgerFactory:        ledgerFactory,
		priorExecutedRuleIDs: priorExecutedRuleIDs,
	}
}

// KnowledgeGraph returns the lazily-loaded Knowledge Graph Mirror,
// triggering the single parse the first time any check calls it
// (single-flight via sync.Once, per spec.md §5). Checks that never call
// this method never pay the parsing cost.
func (c *Context) KnowledgeGraph(ctx context.Context) (*kg.Snapshot, error) {
	c.kgOnce.Do(func() {
		c.kgSnap, c.kgErr = kg.Load(ctx, c.PathResolver.Source(), c.priorExecutedRuleIDs)
	})
	return c.kgSnap, c.kgErr
}

// KnowledgeGraphIfLoaded returns the Knowledge Graph Mirror snapshot
// only if some earlier check already triggered its load; it never
// triggers the load itself. Used by the postprocessor, which benefits
// from the symbol index when present but must not force a parse just
// to run entry-point downgrade.
func (c *Context) KnowledgeGraphIfLoaded() (*kg.Snapshot, bool) {
	if c.kgSnap == nil {
		return nil, false
	}
	return c.kgSnap, true
}

// Session acquires a ledger session for the duration of one check
// invocation. Callers must release it (via the returned Session's
// Close) before returning, never holding it across a suspension point.
func (c *Context) Session(ctx context.Context) (ledger.Session, error) {
	if c.LedgerFactory == nil {
		return nil, ledger.ErrNoSessionFactory
	}
	return c.LedgerFactory(ctx)
}

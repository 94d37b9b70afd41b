// Package kg implements the Knowledge Graph Mirror (C9): a read-only,
// lazily-loaded projection of the symbol graph needed by checks that
// cross-reference code structure (e.g. the atomic-action contract
// check). It adapts internal/codeintel rather than re-implementing
// symbol extraction.
package kg

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/core-governance/core/internal/codeintel"
)

// Snapshot is the immutable, once-loaded view of the symbol graph.
// Checks that never call Load must never trigger the underlying parse.
type Snapshot struct {
	repo            codeintel.Repository
	executedRuleIDs map[string]struct{}
}

// Load populates a Snapshot by indexing rootPath with the registered
// (Python-only) parser into an in-memory SQLite-backed repository, per
// SPEC_FULL.md §6.8. executedRuleIDs comes from a prior audit's
// evidence artifact, for delta analysis (spec.md §4.8).
func Load(ctx context.Context, rootPath string, executedRuleIDs []string) (*Snapshot, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open knowledge-graph store: %w", err)
	}
	if err := codeintel.InitSchema(db); err != nil {
		return nil, fmt.Errorf("init knowledge-graph schema: %w", err)
	}

	repo := codeintel.NewRepository(db)
	indexer := codeintel.NewIndexer(repo, codeintel.DefaultIndexerConfig())
	if _, err := indexer.IndexDirectory(ctx, rootPath); err != nil {
		return nil, fmt.Errorf("index %s: %w", rootPath, err)
	}

	ids := make(map[string]struct{}, len(executedRuleIDs))
	for _, id := range executedRuleIDs {
		ids[id] = struct{}{}
	}

	return &Snapshot{repo: repo, executedRuleIDs: ids}, nil
}

// SymbolsIn returns every symbol codeintel extracted from file.
func (s *Snapshot) SymbolsIn(ctx context.Context, file string) ([]codeintel.Symbol, error) {
	return s.repo.FindSymbolsByFile(ctx, file)
}

// SymbolByFQName returns the first symbol matching name, if any.
func (s *Snapshot) SymbolByFQName(ctx context.Context, name string) (*codeintel.Symbol, error) {
	symbols, err := s.repo.FindSymbolsByName(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	return &symbols[0], nil
}

// ExecutedChecks returns the set of rule IDs the prior audit evidence
// recorded as executed.
func (s *Snapshot) ExecutedChecks() map[string]struct{} {
	return s.executedRuleIDs
}

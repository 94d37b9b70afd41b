package codeintel

import (
	"context"
	"fmt"
	"sort"
)

// QueryConfig holds configuration for the query service.
type QueryConfig struct {
	// FTSWeight is the weight for FTS5 keyword matches (default 1.0).
	FTSWeight float32

	// MinResultThreshold is the minimum combined score to include (default 0.1).
	MinResultThreshold float32

	// DefaultLimit is the default number of results to return.
	DefaultLimit int

	// MaxImpactDepth is the maximum depth for impact analysis (default 5).
	MaxImpactDepth int
}

// DefaultQueryConfig returns sensible defaults for query configuration.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		FTSWeight:          1.0,
		MinResultThreshold: 0.1,
		DefaultLimit:       20,
		MaxImpactDepth:     5,
	}
}

// QueryService provides lexical search and impact analysis over the symbol mirror.
// The mirror is read-only once loaded, so queries never trigger re-parsing.
type QueryService struct {
	repo   Repository
	config QueryConfig
}

// NewQueryService creates a new query service with default configuration.
func NewQueryService(repo Repository) *QueryService {
	return &QueryService{
		repo:   repo,
		config: DefaultQueryConfig(),
	}
}

// NewQueryServiceWithConfig creates a new query service with custom configuration.
func NewQueryServiceWithConfig(repo Repository, config QueryConfig) *QueryService {
	return &QueryService{
		repo:   repo,
		config: config,
	}
}

// HybridSearch performs an FTS5 keyword search over symbol names, signatures
// and doc comments. The name is kept from the mirror's earlier vector-search
// era; only the lexical path survives here.
func (qs *QueryService) HybridSearch(ctx context.Context, query string, limit int) ([]SymbolSearchResult, error) {
	if limit <= 0 {
		limit = qs.config.DefaultLimit
	}

	ftsResults, err := qs.repo.SearchSymbolsFTS(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}

	var results []SymbolSearchResult
	for i := range ftsResults {
		sym := &ftsResults[i]
		score := (float32(1.0) - float32(i)/float32(len(ftsResults)+1)) * qs.config.FTSWeight
		if score < qs.config.MinResultThreshold {
			continue
		}
		results = append(results, SymbolSearchResult{
			Symbol: *sym,
			Score:  score,
			Source: "fts",
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// SearchByKind performs hybrid search filtered to a specific symbol kind.
// Useful for finding only functions, only structs, etc.
func (qs *QueryService) SearchByKind(ctx context.Context, query string, kind SymbolKind, limit int) ([]SymbolSearchResult, error) {
	// Get all results then filter by kind
	// This is simpler than adding kind filtering to the FTS query
	allResults, err := qs.HybridSearch(ctx, query, limit*3) // Fetch more to allow for filtering
	if err != nil {
		return nil, err
	}

	var filtered []SymbolSearchResult
	for _, r := range allResults {
		if r.Symbol.Kind == kind {
			filtered = append(filtered, r)
			if len(filtered) >= limit {
				break
			}
		}
	}

	return filtered, nil
}

// SearchByFile performs hybrid search filtered to a specific file.
func (qs *QueryService) SearchByFile(ctx context.Context, query string, filePath string, limit int) ([]SymbolSearchResult, error) {
	allResults, err := qs.HybridSearch(ctx, query, limit*3)
	if err != nil {
		return nil, err
	}

	var filtered []SymbolSearchResult
	for _, r := range allResults {
		if r.Symbol.FilePath == filePath {
			filtered = append(filtered, r)
			if len(filtered) >= limit {
				break
			}
		}
	}

	return filtered, nil
}

// AnalyzeImpact finds all symbols that would be affected by changing a given symbol.
// Uses recursive CTEs to traverse the call graph and find all downstream consumers.
//
// This is critical for understanding the blast radius of code changes:
// - Who calls this function?
// - Who calls those callers? (and so on, up to maxDepth)
// - What types implement this interface?
//
// H2 FIX: Deduplicates symbols that appear at multiple depths in cyclic graphs,
// keeping only the first occurrence (lowest depth) for each symbol.
func (qs *QueryService) AnalyzeImpact(ctx context.Context, symbolID uint32, maxDepth int) (*ImpactAnalysis, error) {
	if maxDepth <= 0 {
		maxDepth = qs.config.MaxImpactDepth
	}

	// Get the source symbol for context
	sourceSymbol, err := qs.repo.GetSymbol(ctx, symbolID)
	if err != nil {
		return nil, fmt.Errorf("get source symbol: %w", err)
	}

	// Use repository's recursive CTE-based impact analysis
	impactNodes, err := qs.repo.GetImpactRadius(ctx, symbolID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("get impact radius: %w", err)
	}

	// H2 FIX: Deduplicate symbols that appear at multiple depths (cycles in call graph)
	// Keep only the first occurrence (lowest depth) for each symbol ID
	seenSymbols := make(map[uint32]bool)
	var dedupedNodes []ImpactNode
	for _, node := range impactNodes {
		if seenSymbols[node.Symbol.ID] {
			continue // Skip duplicate - already seen at a lower depth
		}
		seenSymbols[node.Symbol.ID] = true
		dedupedNodes = append(dedupedNodes, node)
	}

	// Build the analysis result
	analysis := &ImpactAnalysis{
		Source:        *sourceSymbol,
		AffectedCount: len(dedupedNodes),
		MaxDepth:      maxDepth,
	}

	// Group affected symbols by depth for clarity
	analysis.ByDepth = make(map[int][]Symbol)
	uniqueFiles := make(map[string]bool)

	for _, node := range dedupedNodes {
		analysis.Affected = append(analysis.Affected, node)
		analysis.ByDepth[node.Depth] = append(analysis.ByDepth[node.Depth], node.Symbol)
		uniqueFiles[node.Symbol.FilePath] = true
	}

	analysis.AffectedFiles = len(uniqueFiles)

	return analysis, nil
}

// ImpactAnalysis holds the result of an impact analysis.
type ImpactAnalysis struct {
	Source        Symbol            `json:"source"`        // The symbol being analyzed
	Affected      []ImpactNode      `json:"affected"`      // All affected symbols with depth
	AffectedCount int               `json:"affectedCount"` // Total count of affected symbols
	AffectedFiles int               `json:"affectedFiles"` // Number of files affected
	MaxDepth      int               `json:"maxDepth"`      // Maximum traversal depth used
	ByDepth       map[int][]Symbol  `json:"byDepth"`       // Symbols grouped by distance
}

// FindSymbol looks up a symbol by ID.
func (qs *QueryService) FindSymbol(ctx context.Context, id uint32) (*Symbol, error) {
	return qs.repo.GetSymbol(ctx, id)
}

// FindSymbolByName finds symbols with a specific name.
// Returns all matches across all files/modules.
func (qs *QueryService) FindSymbolByName(ctx context.Context, name string) ([]Symbol, error) {
	return qs.repo.FindSymbolsByName(ctx, name, nil)
}

// FindSymbolByNameAndLang finds symbols with a specific name in a specific language.
func (qs *QueryService) FindSymbolByNameAndLang(ctx context.Context, name, lang string) ([]Symbol, error) {
	return qs.repo.FindSymbolsByName(ctx, name, &lang)
}

// GetCallers returns all symbols that call the given symbol.
func (qs *QueryService) GetCallers(ctx context.Context, symbolID uint32) ([]Symbol, error) {
	return qs.repo.GetCallers(ctx, symbolID)
}

// GetCallees returns all symbols called by the given symbol.
func (qs *QueryService) GetCallees(ctx context.Context, symbolID uint32) ([]Symbol, error) {
	return qs.repo.GetCallees(ctx, symbolID)
}

// GetImplementations returns all types that implement a given interface.
func (qs *QueryService) GetImplementations(ctx context.Context, interfaceID uint32) ([]Symbol, error) {
	return qs.repo.GetImplementations(ctx, interfaceID)
}

// GetSymbolsInFile returns all symbols defined in a file.
func (qs *QueryService) GetSymbolsInFile(ctx context.Context, filePath string) ([]Symbol, error) {
	return qs.repo.FindSymbolsByFile(ctx, filePath)
}

// GetStats returns current index statistics.
func (qs *QueryService) GetStats(ctx context.Context) (*IndexStats, error) {
	symbolCount, err := qs.repo.GetSymbolCount(ctx)
	if err != nil {
		return nil, err
	}

	relationCount, err := qs.repo.GetRelationCount(ctx)
	if err != nil {
		return nil, err
	}

	fileCount, err := qs.repo.GetFileCount(ctx)
	if err != nil {
		return nil, err
	}

	return &IndexStats{
		SymbolsFound:   symbolCount,
		RelationsFound: relationCount,
		FilesIndexed:   fileCount,
	}, nil
}

// Package auditor implements the Auditor (C4) and Filtered-Audit
// Runner (C5): it enumerates target files, dispatches every applicable
// check concurrently, recovers check crashes into synthetic findings,
// and produces an immutable AuditResult.
package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/core-governance/core/internal/governance/auditctx"
	"github.com/core-governance/core/internal/governance/catalog"
	"github.com/core-governance/core/internal/governance/kg"
	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/governance/postprocess"
	"github.com/core-governance/core/internal/governance/registry"
)

// CrashCheckID is the synthetic check id recorded against a check that
// panicked or returned an error, per spec.md §4.4 step 3.
const CrashCheckID = "internal.audit.crash"

// ignoreDirs is the static ignore-set of the Auditor's file enumeration:
// the directory names internal/codeintel/parser.PythonParser's directory
// traversal skips, plus .git. The parser also skips every other
// dot-prefixed directory; this set does not, so files under such a
// directory are enumerated here but not parsed by the parser.
var ignoreDirs = map[string]bool{
	"__pycache__": true, "venv": true, ".venv": true, "env": true, ".env": true,
	"node_modules": true, "dist": true, "build": true, ".git": true,
}

// FileScopeDeadline and TreeScopeDeadline are the default per-invocation
// check deadlines from spec.md §5.
const (
	FileScopeDeadline = 30 * time.Second
	TreeScopeDeadline = 60 * time.Second
)

type subSemKeyType struct{}

var subSemKey subSemKeyType

// WithSubprocessSemaphore attaches the subprocess-throttling semaphore
// to ctx so a subprocess-invoking check can acquire a slot before
// spawning, per spec.md §5.
func WithSubprocessSemaphore(ctx context.Context, sem *semaphore.Weighted) context.Context {
	return context.WithValue(ctx, subSemKey, sem)
}

// SubprocessSemaphore retrieves the semaphore attached by
// WithSubprocessSemaphore, or nil if none is present.
func SubprocessSemaphore(ctx context.Context) *semaphore.Weighted {
	sem, _ := ctx.Value(subSemKey).(*semaphore.Weighted)
	return sem
}

// Options configures one Auditor run.
type Options struct {
	// Workers bounds the check-dispatch worker pool. Defaults to
	// runtime.NumCPU().
	Workers int
	// SubprocessLimit bounds concurrent subprocess-invoking checks.
	// Defaults to Workers.
	SubprocessLimit int
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.SubprocessLimit <= 0 {
		o.SubprocessLimit = o.Workers
	}
	return o
}

type workItem struct {
	check  *catalog.Check
	target catalog.Target
}

// RunFull runs every registered check against every discovered target,
// per spec.md §4.4.
func RunFull(ctx context.Context, actx *auditctx.Context, reg *registry.Registry, cat *catalog.Catalog, opts Options) (*model.AuditResult, error) {
	return run(ctx, actx, reg, cat, opts, nil, nil, false)
}

// RunFiltered runs only the checks matching rulePatterns/policyIDs
// (spec.md §4.4's C5 variant). Checks matching none of the patterns are
// skipped and not counted as executed.
func RunFiltered(ctx context.Context, actx *auditctx.Context, reg *registry.Registry, cat *catalog.Catalog, opts Options, rulePatterns []string, policyIDs []string) (*model.AuditResult, error) {
	return run(ctx, actx, reg, cat, opts, rulePatterns, policyIDs, true)
}

func run(ctx context.Context, actx *auditctx.Context, reg *registry.Registry, cat *catalog.Catalog, opts Options, rulePatterns, policyIDs []string, filtered bool) (*model.AuditResult, error) {
	opts = opts.normalized()
	log := slog.Default().With("component", "governance.auditor")

	checks, err := selectChecks(cat, rulePatterns, policyIDs, filtered)
	if err != nil {
		return nil, err
	}

	files, err := enumerateFiles(actx.Fs, actx.PathResolver.Source())
	if err != nil {
		return nil, fmt.Errorf("enumerate target files: %w", err)
	}

	items := buildWorkItems(checks, files)

	subSem := semaphore.NewWeighted(int64(opts.SubprocessLimit))
	group, gctx := errgroup.WithContext(WithSubprocessSemaphore(ctx, subSem))
	group.SetLimit(opts.Workers)

	var mu sync.Mutex
	var allFindings []model.Finding
	executed := make(map[string]bool)
	crashed := make(map[string]bool)

	for _, item := range items {
		item := item
		group.Go(func() error {
			deadline := FileScopeDeadline
			if item.check.TargetScope != catalog.ScopeFile {
				deadline = TreeScopeDeadline
			}
			findings, ruleIDs, crashedHere := invoke(gctx, item, deadline)

			mu.Lock()
			defer mu.Unlock()
			allFindings = append(allFindings, findings...)
			for _, id := range ruleIDs {
				executed[id] = true
				if crashedHere {
					crashed[id] = true
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(allFindings, func(i, j int) bool {
		if allFindings[i].FilePath != allFindings[j].FilePath {
			return allFindings[i].FilePath < allFindings[j].FilePath
		}
		return allFindings[i].Line < allFindings[j].Line
	})

	var snap *kg.Snapshot
	if actx != nil {
		// Postprocessing's entry-point downgrade may need the symbol
		// index; only trigger the lazy load if it was already primed by
		// a check during this run, never force it here.
		snap, _ = actx.KnowledgeGraphIfLoaded()
	}
	postprocessed, _, verdict := postprocess.Apply(allFindings, reg, snap)

	executedIDs := make([]string, 0, len(executed))
	for id := range executed {
		executedIDs = append(executedIDs, id)
	}
	sort.Strings(executedIDs)

	stats := computeStats(reg, executedIDs, crashed)

	result := &model.AuditResult{
		AuditID:         uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Findings:        postprocessed,
		ExecutedRuleIDs: executedIDs,
		Stats:           stats,
		Verdict:         verdict,
		Passed:          verdict != model.VerdictFail,
		FindingsCount:   len(postprocessed),
	}

	log.Info("audit run complete", "verdict", string(result.Verdict), "findings", result.FindingsCount, "executed_rules", len(executedIDs))
	return result, nil
}

func selectChecks(cat *catalog.Catalog, rulePatterns, policyIDs []string, filtered bool) ([]*catalog.Check, error) {
	if !filtered {
		return cat.Checks(), nil
	}

	seen := make(map[string]bool)
	var out []*catalog.Check

	if len(rulePatterns) > 0 {
		compiled := make([]*regexp.Regexp, 0, len(rulePatterns))
		for _, pattern := range rulePatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile rule pattern %q: %w", pattern, err)
			}
			compiled = append(compiled, re)
		}
		for _, check := range cat.ChecksMatchingPatterns(compiled) {
			if !seen[check.Name] {
				seen[check.Name] = true
				out = append(out, check)
			}
		}
	}

	for _, policyID := range policyIDs {
		for _, check := range cat.ChecksMatchingPolicy(policyID) {
			if !seen[check.Name] {
				seen[check.Name] = true
				out = append(out, check)
			}
		}
	}

	return out, nil
}

func buildWorkItems(checks []*catalog.Check, files []string) []workItem {
	var items []workItem
	for _, check := range checks {
		switch check.TargetScope {
		case catalog.ScopeFile:
			for _, f := range files {
				items = append(items, workItem{check: check, target: catalog.Target{Scope: catalog.ScopeFile, Path: f}})
			}
		case catalog.ScopeTree:
			items = append(items, workItem{check: check, target: catalog.Target{Scope: catalog.ScopeTree}})
		default:
			items = append(items, workItem{check: check, target: catalog.Target{Scope: catalog.ScopeGlobal}})
		}
	}
	return items
}

// invoke runs one (check, target) pair under a deadline, recovering a
// panic into a synthetic crash finding per spec.md §4.4 step 3.
func invoke(ctx context.Context, item workItem, deadline time.Duration) (findings []model.Finding, ruleIDs []string, crashed bool) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ruleIDs = item.check.RuleIDs

	defer func() {
		if r := recover(); r != nil {
			crashed = true
			findings = []model.Finding{{
				CheckID:  CrashCheckID,
				Severity: model.SeverityError,
				Message:  fmt.Sprintf("check %s panicked: %v", item.check.Name, r),
				FilePath: item.target.Path,
			}}
		}
	}()

	result, err := item.check.Verify(ctx, item.target)
	if err != nil {
		if ctx.Err() != nil {
			return []model.Finding{{
				CheckID:  CrashCheckID,
				Severity: model.SeverityError,
				Message:  fmt.Sprintf("check %s timed out after %s", item.check.Name, deadline),
				FilePath: item.target.Path,
			}}, ruleIDs, true
		}
		return []model.Finding{{
			CheckID:  CrashCheckID,
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("check %s failed: %v", item.check.Name, err),
			FilePath: item.target.Path,
		}}, ruleIDs, true
	}

	return result, ruleIDs, false
}

func computeStats(reg *registry.Registry, executedIDs []string, crashed map[string]bool) model.AuditStats {
	var totalDeclared, totalExecutable int
	for _, rule := range reg.Rules() {
		totalDeclared++
		if rule.HasEngine() {
			totalExecutable++
		}
	}

	coveragePercent := 0.0
	if totalExecutable > 0 {
		coveragePercent = 100.0 * float64(len(executedIDs)) / float64(totalExecutable)
	}

	return model.AuditStats{
		TotalDeclaredRules:       totalDeclared,
		TotalExecutableRules:     totalExecutable,
		ExecutedDynamicRules:     len(executedIDs),
		CrashedRules:             len(crashed),
		CoveragePercent:          coveragePercent,
		EffectiveCoveragePercent: coveragePercent,
	}
}

// enumerateFiles walks root for .py source files, skipping the static
// ignore-set, sorted lexicographically for determinism (spec.md §4.4).
func enumerateFiles(fs afero.Fs, root string) ([]string, error) {
	exists, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var files []string
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if path != root && ignoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".py") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Package evidence implements the Evidence Writer (C8): the sole
// persister of governance artifacts. Every write is atomic (temp file
// + rename) and guarded by a file lock, matching
// store.FileTaskStore.saveTasksToFileInternal's pattern, per spec.md
// §4.7 — no check writes directly.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/core-governance/core/internal/governance/coverage"
	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/governance/postprocess"
)

// Writer persists governance artifacts under a reports root, one
// *flock.Flock per target file so concurrent `check audit` invocations
// never interleave writes to the same artifact.
type Writer struct {
	reportsRoot string
	locks       map[string]*flock.Flock
}

// NewWriter returns a Writer rooted at reportsRoot (typically
// PathResolver.Reports()).
func NewWriter(reportsRoot string) *Writer {
	return &Writer{reportsRoot: reportsRoot, locks: make(map[string]*flock.Flock)}
}

// WriteAuditResult emits reports/audit/latest_audit.json, the canonical
// audit ledger entry, per spec.md §6's stable schema.
func (w *Writer) WriteAuditResult(result *model.AuditResult) error {
	path := filepath.Join(w.reportsRoot, "audit", "latest_audit.json")
	payload := map[string]any{
		"audit_id":       result.AuditID,
		"timestamp":      result.Timestamp.Format(time.RFC3339),
		"passed":         result.Passed,
		"findings_count": result.FindingsCount,
		"executed_rules": result.ExecutedRuleIDs,
		"verdict":        string(result.Verdict),
		"stats":          result.Stats,
	}
	return w.writeJSON(path, payload)
}

// WriteFindings emits reports/audit_findings.json, the full findings
// array.
func (w *Writer) WriteFindings(findings []model.Finding) error {
	path := filepath.Join(w.reportsRoot, "audit_findings.json")
	return w.writeJSON(path, findings)
}

// WriteAutoIgnored emits reports/audit_auto_ignored.{json,md}: the
// postprocessor-downgraded findings with rationale.
func (w *Writer) WriteAutoIgnored(generatedAt time.Time, ignored []postprocess.Ignored) error {
	jsonPath := filepath.Join(w.reportsRoot, "audit_auto_ignored.json")
	payload := map[string]any{
		"generated_at": generatedAt.Format(time.RFC3339),
		"items":        ignored,
	}
	if err := w.writeJSON(jsonPath, payload); err != nil {
		return err
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Auto-Ignored Findings\n\ngenerated: %s\n\n", generatedAt.Format(time.RFC3339))
	for _, item := range ignored {
		fmt.Fprintf(&md, "- `%s` (%s:%d) — %s\n", item.Finding.CheckID, item.Finding.FilePath, item.Finding.Line, item.Reason)
	}
	mdPath := filepath.Join(w.reportsRoot, "audit_auto_ignored.md")
	return w.writeAtomic(mdPath, []byte(md.String()))
}

// WriteCoverageMap emits reports/governance/enforcement_coverage_map.{json,md},
// flat JSON and a hierarchical (per-policy) Markdown rendering.
func (w *Writer) WriteCoverageMap(m *coverage.Map) error {
	jsonPath := filepath.Join(w.reportsRoot, "governance", "enforcement_coverage_map.json")
	if err := w.writeJSON(jsonPath, m); err != nil {
		return err
	}

	var md strings.Builder
	md.WriteString("# Enforcement Coverage Map\n\n")
	for _, agg := range m.PolicyAggregates {
		fmt.Fprintf(&md, "## %s\n\n", policyHeading(agg.PolicyID))
		fmt.Fprintf(&md, "- enforced: %d\n- implementable: %d\n- declared_only: %d\n- filtered_out: %d\n- enforcement_rate: %.2f\n\n",
			agg.Enforced, agg.Implementable, agg.DeclaredOnly, agg.FilteredOut, agg.EnforcementRate)
	}
	md.WriteString("## Gap samples\n\n")
	for _, gap := range m.GapSamples {
		fmt.Fprintf(&md, "- `%s` (%s)\n", gap.Rule.RuleID, gap.Rule.Severity)
	}
	mdPath := filepath.Join(w.reportsRoot, "governance", "enforcement_coverage_map.md")
	return w.writeAtomic(mdPath, []byte(md.String()))
}

func policyHeading(policyID string) string {
	if policyID == "" {
		return "(unattributed)"
	}
	return policyID
}

func (w *Writer) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return w.writeAtomic(path, data)
}

// writeAtomic writes data to path via a temp-file-then-rename, guarded
// by a per-path *flock.Flock, matching
// store.FileTaskStore.saveTasksToFileInternal.
func (w *Writer) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create reports dir %s: %w", dir, err)
	}

	lock := w.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock for %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	tempPath := path + ".tmp"
	defer func() { _ = os.Remove(tempPath) }()

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

func (w *Writer) lockFor(path string) *flock.Flock {
	if lock, ok := w.locks[path]; ok {
		return lock
	}
	lock := flock.New(path + ".lock")
	w.locks[path] = lock
	return lock
}

// Package gate implements the Workflow Gate (C7): a multi-check
// decision point a change workflow must pass before it's admitted,
// consuming audit evidence plus live probes (tests, coverage, linter,
// import integrity, dead code, canary), per spec.md §4.6. Each built-in
// check is ported from one file under
// original_source/src/mind/logic/engines/workflow_gate/checks/.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/auditctx"
	"github.com/core-governance/core/internal/governance/auditor"
	"github.com/core-governance/core/internal/governance/catalog"
	"github.com/core-governance/core/internal/governance/ledger"
	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/governance/registry"
	"github.com/core-governance/core/internal/policy"
)

// Check is a single workflow gate probe. FilePath is empty for
// context-level checks (audit_history, test_verification). Params
// carries check-specific configuration.
type Check interface {
	CheckType() string
	Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error)
}

// Gate runs an ordered list of Checks and admits iff every check's
// aggregate violations are empty, per spec.md §4.6.
type Gate struct {
	checks []Check
}

// New returns a Gate running checks in order.
func New(checks ...Check) *Gate {
	return &Gate{checks: checks}
}

// Run executes every check, aggregating results. The gate admits iff
// every result is empty.
func (g *Gate) Run(ctx context.Context, filePath string, params map[string]any) ([]model.WorkflowCheckResult, bool) {
	results := make([]model.WorkflowCheckResult, 0, len(g.checks))
	admitted := true
	for _, check := range g.checks {
		violations, err := check.Verify(ctx, filePath, params)
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s check error: %v", check.CheckType(), err))
		}
		result := model.WorkflowCheckResult{CheckType: check.CheckType(), Violations: violations}
		results = append(results, result)
		if !result.Admitted() {
			admitted = false
		}
	}
	return results, admitted
}

// runSubprocess runs name with args under a deadline, converting a
// timeout, missing-binary, or non-zero exit into a violation string
// rather than an error return, per spec.md §7 — matching
// internal/eval/runner.go's exec.CommandContext + buffered-output idiom.
func runSubprocess(ctx context.Context, deadline time.Duration, name string, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return out.String(), exitCode, fmt.Errorf("%s timed out after %s", name, deadline)
	}
	return out.String(), exitCode, err
}

// CanaryCheck ports canary.py's CanaryDeploymentCheck: a boolean read
// straight from params.
type CanaryCheck struct{}

func (CanaryCheck) CheckType() string { return "canary_audit" }

func (CanaryCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	passed, _ := params["canary_passed"].(bool)
	if !passed {
		return []string{"Canary audit required: operation must pass in staging/isolation first."}, nil
	}
	return nil, nil
}

// AuditHistoryCheck ports audit.py's AuditHistoryCheck: no failed
// audits admitted within a rolling window (default 7 days).
type AuditHistoryCheck struct {
	Session ledger.Session
	Window  time.Duration
}

func (AuditHistoryCheck) CheckType() string { return "audit_history" }

func (c AuditHistoryCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	if c.Session == nil {
		return []string{"System sensation error: audit ledger is unreachable."}, nil
	}
	window := c.Window
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	count, err := c.Session.RecentFailedAudits(ctx, window)
	if err != nil {
		return []string{fmt.Sprintf("database query error: %v", err)}, nil
	}
	if count > 0 {
		return []string{fmt.Sprintf("found %d failed audit(s) in the past %s; the system must maintain consistent compliance", count, window)}, nil
	}
	return nil, nil
}

// TestVerificationCheck ports tests.py's TestVerificationCheck: the
// most recent test_execution action result must have passed.
type TestVerificationCheck struct {
	Session ledger.Session
}

func (TestVerificationCheck) CheckType() string { return "test_verification" }

func (c TestVerificationCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	if c.Session == nil {
		return []string{"System sensation error: action ledger is unreachable."}, nil
	}
	result, err := c.Session.LatestActionResult(ctx, "test_execution", "")
	if err != nil {
		return []string{fmt.Sprintf("database query error: %v", err)}, nil
	}
	if result == nil {
		return []string{"no test execution history found; the test suite must be executed before this workflow can proceed"}, nil
	}
	if !result.OK {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "unknown test failure"
		}
		return []string{fmt.Sprintf("required test suite failed: %s", msg)}, nil
	}
	return nil, nil
}

// AlignmentVerificationCheck ports alignment.py's
// AlignmentVerificationCheck: a filtered audit scoped to one file must
// be clean, and the most recent alignment action result must have
// succeeded.
type AlignmentVerificationCheck struct {
	Context *auditctx.Context
	Reg     *registry.Registry
	Cat     *catalog.Catalog
	Session ledger.Session
}

func (AlignmentVerificationCheck) CheckType() string { return "alignment_verification" }

func (c AlignmentVerificationCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	if filePath == "" {
		return nil, nil
	}

	var violations []string

	if c.Context != nil && c.Reg != nil && c.Cat != nil {
		result, err := auditor.RunFiltered(ctx, c.Context, c.Reg, c.Cat, auditor.Options{}, []string{".*"}, nil)
		if err != nil {
			return nil, fmt.Errorf("run filtered audit for %s: %w", filePath, err)
		}
		fileViolations := 0
		for _, f := range result.Findings {
			if f.FilePath == filePath {
				fileViolations++
			}
		}
		if fileViolations > 0 {
			violations = append(violations, fmt.Sprintf("file has %d outstanding violations", fileViolations))
		}
	}

	if c.Session != nil {
		result, err := c.Session.LatestActionResult(ctx, "alignment", filePath)
		if err != nil {
			return nil, fmt.Errorf("query latest alignment result: %w", err)
		}
		if result != nil && !result.OK {
			violations = append(violations, "last alignment attempt failed")
		}
	}

	return violations, nil
}

// CoverageMinimumCheck ports coverage.py's CoverageMinimumCheck: reads
// a caller-supplied percentage or coverage.json against a configurable
// threshold (default 75%).
type CoverageMinimumCheck struct {
	Fs        afero.Fs
	Threshold float64
}

func (CoverageMinimumCheck) CheckType() string { return "coverage_minimum" }

func (c CoverageMinimumCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = 75.0
	}

	current, ok := params["current_coverage"].(float64)
	if !ok && c.Fs != nil {
		if data, err := afero.ReadFile(c.Fs, "coverage.json"); err == nil {
			var doc struct {
				Totals struct {
					PercentCovered float64 `json:"percent_covered"`
				} `json:"totals"`
			}
			if json.Unmarshal(data, &doc) == nil {
				current = doc.Totals.PercentCovered
				ok = true
			}
		}
	}

	if !ok {
		return []string{"no coverage data found; run the test suite first"}, nil
	}
	if current < threshold {
		return []string{fmt.Sprintf("coverage too low: %.1f%% (constitutional minimum: %.0f%%)", current, threshold)}, nil
	}
	return nil, nil
}

// DeadCodeCheck ports dead_code.py's DeadCodeCheck: runs a pluggable
// dead-code-detection binary (default "vulture") over the target.
type DeadCodeCheck struct {
	Binary   string
	RepoRoot string
}

func (DeadCodeCheck) CheckType() string { return "dead_code_check" }

func (c DeadCodeCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	binary := c.Binary
	if binary == "" {
		binary = "vulture"
	}
	target := filePath
	if target == "" {
		target = "src/"
	}
	confidence := 80
	if v, ok := params["confidence"].(int); ok {
		confidence = v
	}

	output, _, err := runSubprocess(ctx, auditor.TreeScopeDeadline, binary, target, "--min-confidence", fmt.Sprint(confidence))
	if err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return []string{fmt.Sprintf("%s not found in PATH — cannot check dead code", binary)}, nil
		}
		if strings.Contains(err.Error(), "timed out") {
			return []string{err.Error()}, nil
		}
	}

	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}
	var violations []string
	for _, line := range strings.Split(output, "\n") {
		violations = append(violations, fmt.Sprintf("dead code detected: %s", line))
	}
	return violations, nil
}

// ImportResolutionCheck ports import_resolution.py's
// ImportResolutionCheck: runs a linter's undefined-name/unused-import
// rules (ruff F821/F401-equivalent) with a 60s deadline.
type ImportResolutionCheck struct {
	Binary string
}

func (ImportResolutionCheck) CheckType() string { return "import_resolution_check" }

func (c ImportResolutionCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	binary := c.Binary
	if binary == "" {
		binary = "ruff"
	}
	target := filePath
	if target == "" {
		target = "src"
	}

	output, exitCode, err := runSubprocess(ctx, auditor.TreeScopeDeadline, binary, "check", target, "--select", "F821,F401", "--output-format", "concise")
	if err != nil && strings.Contains(err.Error(), "timed out") {
		return []string{"import resolution check timed out (>60s)"}, nil
	}
	if err != nil && strings.Contains(err.Error(), "executable file not found") {
		return []string{fmt.Sprintf("%s not found in PATH — cannot check imports", binary)}, nil
	}
	if exitCode == 0 {
		return nil, nil
	}

	output = strings.TrimSpace(output)
	if output == "" {
		return []string{"import resolution check failed with no output"}, nil
	}
	lines := strings.Split(output, "\n")
	shown := lines
	suffix := ""
	if len(lines) > 20 {
		shown = lines[:20]
		suffix = fmt.Sprintf("\n... and %d more violations", len(lines)-20)
	}
	return []string{fmt.Sprintf("unresolvable imports detected (%d violation(s)):\n%s%s", len(lines), strings.Join(shown, "\n"), suffix)}, nil
}

// LinterComplianceCheck ports linter.py's LinterComplianceCheck: runs a
// linter and a formatter's check mode, each under a 30s deadline.
type LinterComplianceCheck struct {
	LinterBinary    string
	FormatterBinary string
}

func (LinterComplianceCheck) CheckType() string { return "linter_compliance" }

func (c LinterComplianceCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	linter := c.LinterBinary
	if linter == "" {
		linter = "ruff"
	}
	formatter := c.FormatterBinary
	if formatter == "" {
		formatter = "black"
	}

	var targets []string
	if filePath != "" {
		targets = []string{filePath}
	} else {
		targets = []string{"src", "tests"}
	}

	var violations []string

	linterArgs := append([]string{"check"}, targets...)
	output, exitCode, err := runSubprocess(ctx, 30*time.Second, linter, linterArgs...)
	switch {
	case err != nil && strings.Contains(err.Error(), "timed out"):
		violations = append(violations, "ruff check timed out (>30s)")
	case err != nil && strings.Contains(err.Error(), "executable file not found"):
		violations = append(violations, fmt.Sprintf("%s not found; install it before running this check", linter))
	case exitCode != 0:
		violations = append(violations, fmt.Sprintf("ruff check failed: %s", strings.TrimSpace(output)))
	}

	formatterArgs := append([]string{"--check"}, targets...)
	output, exitCode, err = runSubprocess(ctx, 30*time.Second, formatter, formatterArgs...)
	switch {
	case err != nil && strings.Contains(err.Error(), "timed out"):
		violations = append(violations, "black check timed out (>30s)")
	case err != nil && strings.Contains(err.Error(), "executable file not found"):
		violations = append(violations, fmt.Sprintf("%s not found; install it before running this check", formatter))
	case exitCode != 0:
		violations = append(violations, fmt.Sprintf("black format check failed: %s", strings.TrimSpace(output)))
	}

	return violations, nil
}

// RegoPolicyCheck is a domain-stack addition: it evaluates a workflow's
// target file against an opa/rego policy bundle, exposing arbitrary
// deny/warn rules as a pluggable gate check. Deny messages are
// violations; warn messages are logged by the caller but never block
// admission, matching engine.go's Evaluate semantics.
type RegoPolicyCheck struct {
	Fs     afero.Fs
	Engine *policy.Engine
}

func (RegoPolicyCheck) CheckType() string { return "policy_compliance" }

func (c RegoPolicyCheck) Verify(ctx context.Context, filePath string, params map[string]any) ([]string, error) {
	if c.Engine == nil {
		return nil, nil
	}
	if filePath == "" {
		return nil, nil
	}

	var content []byte
	if c.Fs != nil {
		var err error
		content, err = afero.ReadFile(c.Fs, filePath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filePath, err)
		}
	}

	decision, err := c.Engine.EvaluateFile(ctx, "", filePath, string(content))
	if err != nil {
		return nil, fmt.Errorf("evaluate rego policy for %s: %w", filePath, err)
	}
	return decision.Violations, nil
}

// Package checks provides the concrete rule-check engines registered
// into the Rule-Check Catalog: regex-based scans over Python source,
// grounded on the same CGO-free pattern-matching idiom as
// internal/codeintel/parser.PythonParser, per spec.md §4.10.
package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/catalog"
	"github.com/core-governance/core/internal/governance/model"
)

var (
	pyAsyncDefPattern = regexp.MustCompile(`(?m)^(?:[ \t]*)async\s+def\s+(\w+)\s*\(`)
	pyDefPattern      = regexp.MustCompile(`(?m)^(?:[ \t]*)(?:async\s+)?def\s+(\w+)\s*\(`)
	pyTopLevelDef     = regexp.MustCompile(`(?m)^(?:async\s+)?def\s+\w+\s*\(`)
	pyClassPattern    = regexp.MustCompile(`(?m)^(?:[ \t]*)class\s+(\w+)\s*(?:\(([^)]*)\))?:`)
	pyDecoratorLine   = regexp.MustCompile(`(?m)^[ \t]*@(\w+(?:\.\w+)*)\(?`)
	pyImportPattern   = regexp.MustCompile(`(?m)^[ \t]*(?:import|from)\s+([\w.]+)`)
	pyPrintOrInput    = regexp.MustCompile(`(?m)\b(print|input)\s*\(`)
	pyEnvAccess       = regexp.MustCompile(`\bos\.environ\b`)
)

// forbiddenImportPrefixes mirrors atomic_actions_check.py's
// _FORBIDDEN_IMPORT_PREFIXES / body_contracts_check.py's UI/interactive
// framework disallow-list.
var forbiddenImportPrefixes = []string{
	"streamlit", "tkinter", "PyQt", "PySide", "kivy",
	"prompt_toolkit", "inquirer", "click", "typer", "rich",
}

func isForbiddenImport(module string) bool {
	module = strings.TrimSpace(module)
	for _, prefix := range forbiddenImportPrefixes {
		if module == prefix || strings.HasPrefix(module, prefix+".") {
			return true
		}
	}
	return false
}

func lineNumber(content []byte, byteOffset int) int {
	return strings.Count(string(content[:byteOffset]), "\n") + 1
}

// AtomicActionCheck ports atomic_actions_check.py's headless/result-
// structure heuristics: every async function under the actions subtree
// must avoid UI imports and emit a structured return.
func AtomicActionCheck(ruleID string, fs afero.Fs) catalog.Check {
	return catalog.Check{
		Name:        "governance.atomic_action",
		RuleIDs:     []string{ruleID},
		Category:    "atomic_action",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			if !strings.Contains(target.Path, "/actions/") {
				return nil, nil
			}
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}

			var findings []model.Finding
			for _, m := range pyImportPattern.FindAllSubmatchIndex(content, -1) {
				module := string(content[m[2]:m[3]])
				if isForbiddenImport(module) {
					findings = append(findings, model.Finding{
						CheckID:  ruleID,
						Severity: model.SeverityError,
						Message:  fmt.Sprintf("atomic action imports UI/interactive dependency %q (headless contract violated)", module),
						FilePath: target.Path,
						Line:     lineNumber(content, m[0]),
					})
				}
			}

			for _, m := range pyAsyncDefPattern.FindAllSubmatchIndex(content, -1) {
				name := string(content[m[2]:m[3]])
				if !hasStructuredReturn(content, m[0]) {
					findings = append(findings, model.Finding{
						CheckID:  ruleID,
						Severity: model.SeverityError,
						Message:  fmt.Sprintf("async action %q does not appear to return a structured result sentinel", name),
						FilePath: target.Path,
						Line:     lineNumber(content, m[0]),
					})
				}
			}

			return findings, nil
		},
	}
}

// hasStructuredReturn looks for a "return ActionResult(" or "return {"
// within the function body starting at defStart, up to the next
// top-level def, matching atomic_actions_check.py's heuristic that a
// structured return is either the ActionResult/Result marker or a dict
// literal.
func hasStructuredReturn(content []byte, defStart int) bool {
	rest := content[defStart:]
	body := rest
	if nl := strings.IndexByte(string(rest), '\n'); nl >= 0 {
		if nextDef := pyTopLevelDef.FindIndex(rest[nl+1:]); nextDef != nil {
			body = rest[:nl+1+nextDef[0]]
		}
	}
	text := string(body)
	if !strings.Contains(text, "return") {
		return false
	}
	return strings.Contains(text, "ActionResult(") || strings.Contains(text, "Result(") || strings.Contains(text, "return {")
}

// HeadlessBodyCheck ports body_contracts_check.py's headless-body
// heuristics: forbid UI imports, print/input calls (error), and
// os.environ reads (warning) in source files outside the CLI subtree.
func HeadlessBodyCheck(importRuleID, printInputRuleID, envRuleID string, fs afero.Fs) catalog.Check {
	return catalog.Check{
		Name:        "governance.headless_body",
		RuleIDs:     []string{importRuleID, printInputRuleID, envRuleID},
		Category:    "headless_body",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			if strings.Contains(target.Path, "/cli/") {
				return nil, nil
			}
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}

			var findings []model.Finding
			for _, m := range pyImportPattern.FindAllSubmatchIndex(content, -1) {
				module := string(content[m[2]:m[3]])
				if isForbiddenImport(module) {
					findings = append(findings, model.Finding{
						CheckID:  importRuleID,
						Severity: model.SeverityError,
						Message:  fmt.Sprintf("forbidden UI/interactive import %q in body code", module),
						FilePath: target.Path,
						Line:     lineNumber(content, m[0]),
					})
				}
			}
			for _, m := range pyPrintOrInput.FindAllSubmatchIndex(content, -1) {
				call := string(content[m[2]:m[3]])
				findings = append(findings, model.Finding{
					CheckID:  printInputRuleID,
					Severity: model.SeverityError,
					Message:  fmt.Sprintf("forbidden %s() call in body code", call),
					FilePath: target.Path,
					Line:     lineNumber(content, m[0]),
				})
			}
			for _, m := range pyEnvAccess.FindAllIndex(content, -1) {
				findings = append(findings, model.Finding{
					CheckID:  envRuleID,
					Severity: model.SeverityWarning,
					Message:  "direct os.environ access in body code",
					FilePath: target.Path,
					Line:     lineNumber(content, m[0]),
				})
			}

			return findings, nil
		},
	}
}

// DocstringCheck emits one finding per function/class definition with
// no immediately following triple-quoted docstring, per spec.md §4.10's
// "Naming / Header / ID / Docstring checks" family.
func DocstringCheck(ruleID string, fs afero.Fs) catalog.Check {
	return catalog.Check{
		Name:        "governance.docstring",
		RuleIDs:     []string{ruleID},
		Category:    "style",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}

			var findings []model.Finding
			checkDef := func(loc []int, kind, name string) {
				lineEnd := strings.IndexByte(string(content[loc[1]:]), '\n')
				if lineEnd < 0 {
					lineEnd = len(content) - loc[1]
				}
				bodyStart := loc[1] + lineEnd + 1
				bodyEnd := bodyStart + 200
				if bodyEnd > len(content) {
					bodyEnd = len(content)
				}
				snippet := strings.TrimLeft(string(content[bodyStart:bodyEnd]), " \t\n")
				if !strings.HasPrefix(snippet, `"""`) && !strings.HasPrefix(snippet, `'''`) {
					findings = append(findings, model.Finding{
						CheckID:  ruleID,
						Severity: model.SeverityWarning,
						Message:  fmt.Sprintf("%s %q has no docstring", kind, name),
						FilePath: target.Path,
						Line:     lineNumber(content, loc[0]),
					})
				}
			}

			for _, m := range pyDefPattern.FindAllSubmatchIndex(content, -1) {
				checkDef(m, "function", string(content[m[2]:m[3]]))
			}
			for _, m := range pyClassPattern.FindAllSubmatchIndex(content, -1) {
				checkDef(m, "class", string(content[m[2]:m[3]]))
			}

			return findings, nil
		},
	}
}

// pySnakeCase / pyPascalCase validate the conventional Python naming
// scheme: functions snake_case, classes PascalCase.
var (
	pySnakeCase  = regexp.MustCompile(`^_{0,2}[a-z][a-z0-9_]*$`)
	pyPascalCase = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
)

// NamingConventionCheck emits a finding per function/class whose name
// doesn't follow Python's conventional casing, per spec.md §4.10.
func NamingConventionCheck(functionRuleID, classRuleID string, fs afero.Fs) catalog.Check {
	return catalog.Check{
		Name:        "governance.naming_convention",
		RuleIDs:     []string{functionRuleID, classRuleID},
		Category:    "style",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}

			var findings []model.Finding
			for _, m := range pyDefPattern.FindAllSubmatchIndex(content, -1) {
				name := string(content[m[2]:m[3]])
				if !pySnakeCase.MatchString(name) {
					findings = append(findings, model.Finding{
						CheckID:  functionRuleID,
						Severity: model.SeverityWarning,
						Message:  fmt.Sprintf("function %q is not snake_case", name),
						FilePath: target.Path,
						Line:     lineNumber(content, m[0]),
					})
				}
			}
			for _, m := range pyClassPattern.FindAllSubmatchIndex(content, -1) {
				name := string(content[m[2]:m[3]])
				if !pyPascalCase.MatchString(name) {
					findings = append(findings, model.Finding{
						CheckID:  classRuleID,
						Severity: model.SeverityWarning,
						Message:  fmt.Sprintf("class %q is not PascalCase", name),
						FilePath: target.Path,
						Line:     lineNumber(content, m[0]),
					})
				}
			}

			return findings, nil
		},
	}
}

// headerPattern matches a "# <path>" module-path header comment, the
// convention the original_source tree uses at the top of nearly every
// file (e.g. "# src/mind/governance/checks/atomic_actions_check.py").
var headerPattern = regexp.MustCompile(`^#\s*\S+\.py\s*$`)

// HeaderCheck emits a finding when a source file is missing its
// leading module-path header comment.
func HeaderCheck(ruleID string, fs afero.Fs) catalog.Check {
	return catalog.Check{
		Name:        "governance.header",
		RuleIDs:     []string{ruleID},
		Category:    "style",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}
			firstLine, _, _ := strings.Cut(string(content), "\n")
			if !headerPattern.MatchString(strings.TrimSpace(firstLine)) {
				return []model.Finding{{
					CheckID:  ruleID,
					Severity: model.SeverityWarning,
					Message:  "missing leading module-path header comment",
					FilePath: target.Path,
					Line:     1,
				}}, nil
			}
			return nil, nil
		},
	}
}

// ruleIDMarkerPattern matches the "# ID: <token>" provenance comments
// the original_source tree attaches to every enforcement class.
var ruleIDMarkerPattern = regexp.MustCompile(`(?m)^\s*#\s*ID:\s*(\S+)\s*$`)

// RuleIDCheck emits a finding per class definition lacking a preceding
// "# ID: <token>" marker comment, matching the provenance convention
// visible throughout the governance check sources.
func RuleIDCheck(ruleID string, fs afero.Fs) catalog.Check {
	return catalog.Check{
		Name:        "governance.rule_id_marker",
		RuleIDs:     []string{ruleID},
		Category:    "style",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}

			markers := ruleIDMarkerPattern.FindAllIndex(content, -1)
			var findings []model.Finding
			for _, m := range pyClassPattern.FindAllSubmatchIndex(content, -1) {
				name := string(content[m[2]:m[3]])
				if !hasPrecedingMarker(markers, m[0]) {
					findings = append(findings, model.Finding{
						CheckID:  ruleID,
						Severity: model.SeverityWarning,
						Message:  fmt.Sprintf("class %q has no preceding '# ID:' provenance marker", name),
						FilePath: target.Path,
						Line:     lineNumber(content, m[0]),
					})
				}
			}
			return findings, nil
		},
	}
}

func hasPrecedingMarker(markers [][]int, classStart int) bool {
	for _, m := range markers {
		if m[0] < classStart && classStart-m[0] < 200 {
			return true
		}
	}
	return false
}

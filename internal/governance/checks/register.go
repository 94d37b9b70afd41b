package checks

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/catalog"
	"github.com/core-governance/core/internal/governance/kg"
	"github.com/core-governance/core/internal/governance/registry"
	"github.com/core-governance/core/internal/policy"
)

// builtinRuleIDs are the conventional rule_ids the built-in engines
// enforce, named after the original_source governance checks they are
// ported from. A policy corpus that never declares one of these is not
// an error: the rule simply has no engine and the Coverage Analyzer
// reports it declared_only, per spec.md §4.5.
const (
	ruleAtomicHeadless        = "atomic.action_must_be_headless"
	ruleAtomicStructuredData  = "atomic.result_must_be_structured"
	ruleBodyNoUIImports       = "body.no_ui_imports_in_body"
	ruleBodyNoPrintOrInput    = "body.no_print_or_input_in_body"
	ruleBodyNoEnvVarAccess    = "body.no_envvar_access_in_body"
	ruleDocFunctionDocstring  = "doc.function_requires_docstring"
	ruleNamingFunctionSnake   = "naming.function_snake_case"
	ruleNamingClassPascal     = "naming.class_pascal_case"
	ruleStyleModuleHeader     = "style.module_header_required"
	ruleStyleClassRuleIDMark  = "style.class_requires_rule_id_marker"
)

// RegisterBuiltins constructs every built-in rule-check engine and
// registers each against reg, returning the assembled Catalog. A check
// whose declared rule_id isn't present in reg is skipped rather than
// treated as fatal — that rule has no engine and surfaces as
// declared_only coverage, not a startup failure. kgSnapshot is accepted
// for parity with checks that will need symbol-graph lookups (none of
// the current built-ins do); it may be nil. policiesRoot is the
// constitutional root reg was loaded from; a "rego" subdirectory under
// it, if present, is loaded as an opa/rego policy bundle and bound to
// every rule declaring engine.kind=="rego" via RegoCheck.
func RegisterBuiltins(reg *registry.Registry, fs afero.Fs, policiesRoot string, kgSnapshot *kg.Snapshot) (*catalog.Catalog, error) {
	cat := catalog.New()
	log := slog.Default().With("component", "governance.checks")

	builtins := []catalog.Check{
		AtomicActionCheck(ruleAtomicHeadless, fs),
		AtomicActionCheck(ruleAtomicStructuredData, fs),
		HeadlessBodyCheck(ruleBodyNoUIImports, ruleBodyNoPrintOrInput, ruleBodyNoEnvVarAccess, fs),
		DocstringCheck(ruleDocFunctionDocstring, fs),
		NamingConventionCheck(ruleNamingFunctionSnake, ruleNamingClassPascal, fs),
		HeaderCheck(ruleStyleModuleHeader, fs),
		RuleIDCheck(ruleStyleClassRuleIDMark, fs),
	}

	if regoCheck, ok, err := buildRegoCheck(reg, fs, policiesRoot); err != nil {
		return nil, err
	} else if ok {
		builtins = append(builtins, regoCheck)
	}

	for _, check := range builtins {
		if err := cat.Register(reg, check); err != nil {
			var undeclared *catalog.ErrUndeclaredRule
			if errors.As(err, &undeclared) {
				log.Debug("skipping builtin check: rule not declared by policy corpus", "check", check.Name, "rule_id", undeclared.RuleID)
				continue
			}
			return nil, fmt.Errorf("register builtin check %q: %w", check.Name, err)
		}
	}

	return cat, nil
}

// buildRegoCheck collects every rule_id the registry declares with
// engine.kind=="rego", loads the rego policy bundle under
// <policiesRoot>/rego, and returns a bound RegoCheck. ok is false when
// no rule declares a rego engine, so callers can skip registration
// entirely rather than load an engine nobody references.
func buildRegoCheck(reg *registry.Registry, fs afero.Fs, policiesRoot string) (catalog.Check, bool, error) {
	var ruleIDs []string
	for _, rule := range reg.Rules() {
		if rule.HasEngine() && rule.Engine.Kind == "rego" {
			ruleIDs = append(ruleIDs, rule.RuleID)
		}
	}
	if len(ruleIDs) == 0 {
		return catalog.Check{}, false, nil
	}

	engine, err := policy.NewEngine(policy.EngineConfig{
		WorkDir:     policiesRoot,
		PoliciesDir: filepath.Join(policiesRoot, "rego"),
		Fs:          fs,
	})
	if err != nil {
		return catalog.Check{}, false, fmt.Errorf("load rego policy bundle: %w", err)
	}

	return RegoCheck(ruleIDs, fs, engine), true, nil
}

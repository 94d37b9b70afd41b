// Package registry implements the Policy Registry (C1): it discovers
// policy documents under a constitutional root, normalizes both
// accepted document shapes into a uniform Rule set, and exposes
// deterministic, sorted lookup over the result.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/docparse"
	"github.com/core-governance/core/internal/governance/model"
)

// metadataPrefixes are document-level id prefixes that are never rule
// containers, per spec.md §4.1.
var metadataPrefixes = []string{"standard_", "schema_", "constitution_", "global_"}

// nestedSections are the category sections accepted under the nested
// document shape, per spec.md §4.1.
var nestedSections = []string{"agent_rules", "style_rules", "safety_rules", "autonomy_lanes"}

// ErrDuplicatePolicy is a fatal load error: two policy documents declare
// the same policy_id.
type ErrDuplicatePolicy struct{ PolicyID string }

func (e *ErrDuplicatePolicy) Error() string {
	return fmt.Sprintf("registry: duplicate policy_id %q", e.PolicyID)
}

// ErrDuplicateRule is a fatal load error: two rules across the registry
// declare the same rule_id.
type ErrDuplicateRule struct{ RuleID string }

func (e *ErrDuplicateRule) Error() string {
	return fmt.Sprintf("registry: duplicate rule_id %q", e.RuleID)
}

// Registry holds every Policy and Rule loaded from a constitutional
// root, immutable after Load returns.
type Registry struct {
	policies map[string]*model.Policy
	rules    map[string]*model.Rule
	root     string
	log      *slog.Logger
}

// Load recursively loads every policy document under root, normalizing
// each into a Policy with zero or more Rules. Unparseable documents are
// skipped with a logged warning; structural violations (duplicate ids,
// an invalid severity/enforcement combo) abort the load.
func Load(fs afero.Fs, root string, parsers *docparse.Registry) (*Registry, error) {
	reg := &Registry{
		policies: make(map[string]*model.Policy),
		rules:    make(map[string]*model.Rule),
		root:     root,
		log:      slog.Default().With("component", "governance.registry"),
	}

	exists, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, fmt.Errorf("check constitutional root: %w", err)
	}
	if !exists {
		return reg, nil
	}

	var paths []string
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" || ext == ".json" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk constitutional root: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := reg.loadDocument(fs, path, parsers); err != nil {
			var fatal *model.InvalidEnforcementSeverityComboError
			var dupPolicy *ErrDuplicatePolicy
			var dupRule *ErrDuplicateRule
			if errors.As(err, &fatal) || errors.As(err, &dupPolicy) || errors.As(err, &dupRule) {
				return nil, err
			}
			reg.log.Warn("unparseable policy document, skipping", "path", path, "error", err)
			continue
		}
	}

	return reg, nil
}

func (r *Registry) loadDocument(fs afero.Fs, path string, parsers *docparse.Registry) error {
	parser, err := parsers.ParserFor(path)
	if err != nil {
		return err
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	raw, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	policy, rules, err := normalizeDocument(raw, path)
	if err != nil {
		return err
	}

	if existing, ok := r.policies[policy.PolicyID]; ok {
		return &ErrDuplicatePolicy{PolicyID: existing.PolicyID}
	}

	for i := range rules {
		rules[i].PolicyID = policy.PolicyID
		if err := rules[i].Validate(); err != nil {
			return err
		}
		if _, ok := r.rules[rules[i].RuleID]; ok {
			return &ErrDuplicateRule{RuleID: rules[i].RuleID}
		}
	}

	policy.Rules = rules
	r.policies[policy.PolicyID] = policy
	for i := range rules {
		rule := rules[i]
		r.rules[rule.RuleID] = &rule
	}

	return nil
}

// normalizeDocument converts either the flat or nested document shape
// (spec.md §4.1) into a Policy and its Rules. A document with neither a
// recognized "rules" list nor a recognized nested section is accepted
// silently as metadata-only with zero rules (spec.md §9's conservative
// choice — see DESIGN.md).
func normalizeDocument(raw map[string]any, path string) (*model.Policy, []model.Rule, error) {
	policyID := stringField(raw, "id")
	if policyID == "" {
		policyID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if isMetadataID(policyID) {
		policyID = path
	}

	policy := &model.Policy{
		PolicyID:   policyID,
		Title:      stringField(raw, "title"),
		Version:    stringField(raw, "version"),
		Authority:  model.Authority(stringField(raw, "authority")),
		SourcePath: path,
	}

	var rules []model.Rule

	if flat, ok := raw["rules"].([]any); ok {
		for _, item := range flat {
			if m, ok := item.(map[string]any); ok {
				rules = append(rules, normalizeRule(m))
			}
		}
		return policy, rules, nil
	}

	for _, section := range nestedSections {
		rules = append(rules, extractNestedSection(raw[section])...)
	}
	if nested, ok := raw["naming_conventions"].(map[string]any); ok {
		for _, v := range nested {
			rules = append(rules, extractNestedSection(v)...)
		}
	}

	return policy, rules, nil
}

func extractNestedSection(section any) []model.Rule {
	switch v := section.(type) {
	case []any:
		var rules []model.Rule
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rules = append(rules, normalizeRule(m))
			}
		}
		return rules
	case map[string]any:
		var rules []model.Rule
		for _, item := range v {
			if list, ok := item.([]any); ok {
				rules = append(rules, extractNestedSection(list)...)
			}
		}
		return rules
	default:
		return nil
	}
}

func normalizeRule(m map[string]any) model.Rule {
	rule := model.Rule{
		RuleID:      stringField(m, "id"),
		Statement:   stringField(m, "statement"),
		Severity:    model.ParseSeverity(stringField(m, "severity")),
		Enforcement: model.ParseEnforcement(stringField(m, "enforcement")),
		Category:    stringField(m, "category"),
	}
	if rule.RuleID == "" {
		rule.RuleID = stringField(m, "rule_id")
	}
	if check, ok := m["check"].(map[string]any); ok {
		rule.Engine = &model.EngineRef{
			Kind: stringField(check, "engine"),
			Name: stringField(check, "name"),
		}
	} else if engine, ok := m["engine"].(map[string]any); ok {
		rule.Engine = &model.EngineRef{
			Kind: stringField(engine, "kind"),
			Name: stringField(engine, "name"),
		}
	}
	return rule
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func isMetadataID(id string) bool {
	for _, prefix := range metadataPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// Policies returns every loaded Policy, sorted by policy_id.
func (r *Registry) Policies() []model.Policy {
	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Policy, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.policies[id])
	}
	return out
}

// Rules returns every loaded Rule, sorted by rule_id.
func (r *Registry) Rules() []model.Rule {
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Rule, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.rules[id])
	}
	return out
}

// GetRule looks up a rule by id, returning (rule, true) if found.
func (r *Registry) GetRule(ruleID string) (model.Rule, bool) {
	rule, ok := r.rules[ruleID]
	if !ok {
		return model.Rule{}, false
	}
	return *rule, true
}

// ErrPolicyNotFound is returned by ResolvePolicy when no backing file
// can be found for a given name or path.
type ErrPolicyNotFound struct{ NameOrPath string }

func (e *ErrPolicyNotFound) Error() string {
	return fmt.Sprintf("registry: no policy file found for %q", e.NameOrPath)
}

// ResolvePolicy resolves a caller-provided short name or path to the
// backing policy file, per spec.md §4.1: direct filename match, then
// constitutional-root/policies-subdir prefix trims, then a recursive
// stem lookup.
func (r *Registry) ResolvePolicy(fs afero.Fs, nameOrPath string) (string, error) {
	if ok, _ := afero.Exists(fs, nameOrPath); ok {
		return nameOrPath, nil
	}

	trimmed := strings.TrimPrefix(nameOrPath, r.root+string(filepath.Separator))
	trimmed = strings.TrimPrefix(trimmed, "policies"+string(filepath.Separator))
	candidate := filepath.Join(r.root, trimmed)
	if ok, _ := afero.Exists(fs, candidate); ok {
		return candidate, nil
	}

	stem := strings.TrimSuffix(filepath.Base(nameOrPath), filepath.Ext(nameOrPath))
	var found string
	_ = afero.Walk(fs, r.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info.IsDir() || found != "" {
			return nil
		}
		if strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) == stem {
			found = path
		}
		return nil
	})
	if found != "" {
		return found, nil
	}

	return "", &ErrPolicyNotFound{NameOrPath: nameOrPath}
}

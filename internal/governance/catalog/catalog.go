// Package catalog implements the Rule-Check Catalog (C2): it maps rule
// IDs to the concrete check implementations ("engines") that enforce
// them, refusing to register a check whose declared rules don't exist
// in the Policy Registry.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/governance/registry"
)

// TargetScope determines how often the Auditor invokes a Check.
type TargetScope string

const (
	// ScopeFile invokes the check once per discovered source file.
	ScopeFile TargetScope = "file"
	// ScopeTree invokes the check once per well-known subtree.
	ScopeTree TargetScope = "tree"
	// ScopeGlobal invokes the check once per run.
	ScopeGlobal TargetScope = "global"
)

// Target is what a Check is asked to verify: a single file, a subtree
// root, or the empty string for ScopeGlobal.
type Target struct {
	Scope TargetScope
	Path  string
}

// Check is a declarative rule-check engine. RuleIDs lists every rule_id
// this check declares it enforces; the catalog rejects registration if
// any of them is absent from the Policy Registry.
type Check struct {
	Name        string
	RuleIDs     []string
	Category    string
	TargetScope TargetScope
	Verify      func(ctx context.Context, target Target) ([]model.Finding, error)
}

// ErrUndeclaredRule is a fatal registration error: a check declares a
// rule_id the Policy Registry never loaded.
type ErrUndeclaredRule struct {
	CheckName string
	RuleID    string
}

func (e *ErrUndeclaredRule) Error() string {
	return fmt.Sprintf("catalog: check %q declares undeclared rule %q", e.CheckName, e.RuleID)
}

// Catalog holds every registered Check, indexed by name and by the rule
// IDs it declares.
type Catalog struct {
	byName    map[string]*Check
	byRuleID  map[string][]*Check
	byPolicy  map[string][]*Check
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		byName:   make(map[string]*Check),
		byRuleID: make(map[string][]*Check),
		byPolicy: make(map[string][]*Check),
	}
}

// Register adds check to the catalog after verifying every rule it
// declares exists in reg. A check declaring an undeclared rule is a
// fatal configuration error per spec.md §4.2.
func (c *Catalog) Register(reg *registry.Registry, check Check) error {
	for _, ruleID := range check.RuleIDs {
		if _, ok := reg.GetRule(ruleID); !ok {
			return &ErrUndeclaredRule{CheckName: check.Name, RuleID: ruleID}
		}
	}

	c.byName[check.Name] = &check
	for _, ruleID := range check.RuleIDs {
		c.byRuleID[ruleID] = append(c.byRuleID[ruleID], &check)
		if rule, ok := reg.GetRule(ruleID); ok && rule.PolicyID != "" {
			c.byPolicy[rule.PolicyID] = append(c.byPolicy[rule.PolicyID], &check)
		}
	}
	return nil
}

// Checks returns every registered Check, sorted by name for determinism.
func (c *Catalog) Checks() []*Check {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Check, 0, len(names))
	for _, name := range names {
		out = append(out, c.byName[name])
	}
	return out
}

// ChecksForRule returns every check declaring ruleID.
func (c *Catalog) ChecksForRule(ruleID string) []*Check {
	return c.byRuleID[ruleID]
}

// ChecksMatchingPolicy returns every check declaring a rule owned by
// policyID.
func (c *Catalog) ChecksMatchingPolicy(policyID string) []*Check {
	return c.byPolicy[policyID]
}

// ChecksMatchingPatterns returns every check that declares at least one
// rule ID matching any of the given regular expressions.
func (c *Catalog) ChecksMatchingPatterns(patterns []*regexp.Regexp) []*Check {
	seen := make(map[string]bool)
	var out []*Check
	for _, check := range c.Checks() {
		for _, ruleID := range check.RuleIDs {
			for _, pattern := range patterns {
				if pattern.MatchString(ruleID) {
					if !seen[check.Name] {
						seen[check.Name] = true
						out = append(out, check)
					}
					break
				}
			}
		}
	}
	return out
}

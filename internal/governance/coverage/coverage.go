// Package coverage implements the Coverage Analyzer (C6): it
// cross-references declared rules against an AuditResult's executed
// rule IDs and classifies every rule into an enforcement bucket, per
// spec.md §4.5.
package coverage

import (
	"sort"

	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/governance/registry"
)

// PolicyAggregate summarizes one policy's rule classification counts.
type PolicyAggregate struct {
	PolicyID        string  `json:"policy_id"`
	Enforced        int     `json:"enforced"`
	Implementable   int     `json:"implementable"`
	DeclaredOnly    int     `json:"declared_only"`
	FilteredOut     int     `json:"filtered_out"`
	Total           int     `json:"total"`
	EnforcementRate float64 `json:"enforcement_rate"`
}

// Map is the full coverage report: per-rule classification, per-policy
// aggregates, gap samples, and the uncovered-error-rule set that drives
// Failing().
type Map struct {
	Entries             []model.CoverageEntry `json:"entries"`
	PolicyAggregates    []PolicyAggregate     `json:"policy_aggregates"`
	GapSamples          []model.CoverageEntry `json:"gap_samples"`
	UncoveredErrorRules []model.Rule          `json:"uncovered_error_rules"`
}

// Failing reports the exit disposition from spec.md §4.5: a coverage
// run fails iff any error-severity rule with a bound engine went
// unexecuted.
func (m *Map) Failing() bool {
	return len(m.UncoveredErrorRules) > 0
}

// Analyze classifies every rule in reg against result's executed rule
// IDs. When filtered is true, a rule with a bound engine that was not
// executed is classified FilteredOut rather than Implementable — the
// explicit bucket chosen in DESIGN.md to resolve spec.md §9's open
// question, so a filtered run's skipped rules never masquerade as a
// genuine coverage gap.
func Analyze(reg *registry.Registry, result *model.AuditResult, filtered bool) *Map {
	executed := make(map[string]bool, len(result.ExecutedRuleIDs))
	for _, id := range result.ExecutedRuleIDs {
		executed[id] = true
	}

	var entries []model.CoverageEntry
	var uncoveredError []model.Rule
	byPolicy := make(map[string]*PolicyAggregate)
	var policyOrder []string

	for _, rule := range reg.Rules() {
		isExecuted := executed[rule.RuleID]
		status := classify(rule, isExecuted, filtered)

		entry := model.CoverageEntry{
			Rule:       rule,
			Status:     status,
			HasEngine:  rule.HasEngine(),
			IsExecuted: isExecuted,
		}
		entries = append(entries, entry)

		if rule.Severity == model.SeverityError && !isExecuted && rule.HasEngine() && !(filtered && status == model.CoverageFilteredOut) {
			uncoveredError = append(uncoveredError, rule)
		}

		agg, ok := byPolicy[rule.PolicyID]
		if !ok {
			agg = &PolicyAggregate{PolicyID: rule.PolicyID}
			byPolicy[rule.PolicyID] = agg
			policyOrder = append(policyOrder, rule.PolicyID)
		}
		agg.Total++
		switch status {
		case model.CoverageEnforced:
			agg.Enforced++
		case model.CoverageImplementable:
			agg.Implementable++
		case model.CoverageDeclaredOnly:
			agg.DeclaredOnly++
		case model.CoverageFilteredOut:
			agg.FilteredOut++
		}
	}

	sort.Strings(policyOrder)
	aggregates := make([]PolicyAggregate, 0, len(policyOrder))
	for _, id := range policyOrder {
		agg := byPolicy[id]
		if agg.Total > 0 {
			agg.EnforcementRate = float64(agg.Enforced) / float64(agg.Total)
		}
		aggregates = append(aggregates, *agg)
	}

	gapSamples := gapSamples(entries)

	sort.Slice(uncoveredError, func(i, j int) bool { return uncoveredError[i].RuleID < uncoveredError[j].RuleID })

	return &Map{
		Entries:             entries,
		PolicyAggregates:    aggregates,
		GapSamples:          gapSamples,
		UncoveredErrorRules: uncoveredError,
	}
}

func classify(rule model.Rule, isExecuted, filtered bool) model.CoverageStatus {
	if !rule.HasEngine() {
		return model.CoverageDeclaredOnly
	}
	if isExecuted {
		return model.CoverageEnforced
	}
	if filtered {
		return model.CoverageFilteredOut
	}
	return model.CoverageImplementable
}

// gapSamples returns the declared-only entries, highest severity first,
// for the "gap samples" output of spec.md §4.5.
func gapSamples(entries []model.CoverageEntry) []model.CoverageEntry {
	var gaps []model.CoverageEntry
	for _, e := range entries {
		if e.Status == model.CoverageDeclaredOnly {
			gaps = append(gaps, e)
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Rule.Severity != gaps[j].Rule.Severity {
			return gaps[i].Rule.Severity > gaps[j].Rule.Severity
		}
		return gaps[i].Rule.RuleID < gaps[j].Rule.RuleID
	})
	return gaps
}

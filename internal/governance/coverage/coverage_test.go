package coverage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/core-governance/core/internal/governance/docparse"
	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/governance/registry"
)

func loadRegistry(t *testing.T, doc string) *registry.Registry {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".intent/policies/demo.yaml", []byte(doc), 0o644))
	reg, err := registry.Load(fs, ".intent/policies", docparse.NewRegistry())
	require.NoError(t, err)
	return reg
}

// TestAnalyze_FilteredAudit implements scenario S4 from spec.md §8.
func TestAnalyze_FilteredAudit(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.a
    severity: warning
    enforcement: reporting
    engine:
      kind: builtin
      name: demo
  - id: r.b
    severity: warning
    enforcement: reporting
    engine:
      kind: builtin
      name: demo
  - id: r.c
    severity: warning
    enforcement: reporting
`)

	result := &model.AuditResult{ExecutedRuleIDs: []string{"r.a"}}
	m := Analyze(reg, result, true)

	byID := make(map[string]model.CoverageStatus)
	for _, e := range m.Entries {
		byID[e.Rule.RuleID] = e.Status
	}
	require.Equal(t, model.CoverageEnforced, byID["r.a"])
	require.Equal(t, model.CoverageFilteredOut, byID["r.b"])
	require.Equal(t, model.CoverageDeclaredOnly, byID["r.c"])
}

func TestAnalyze_UnfilteredImplementable(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.a
    severity: error
    enforcement: blocking
    engine:
      kind: builtin
      name: demo
`)
	result := &model.AuditResult{ExecutedRuleIDs: nil}
	m := Analyze(reg, result, false)
	require.Equal(t, model.CoverageImplementable, m.Entries[0].Status)
}

func TestAnalyze_UncoveredErrorRuleFails(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.err
    severity: error
    enforcement: blocking
    engine:
      kind: builtin
      name: demo
`)
	result := &model.AuditResult{ExecutedRuleIDs: nil}
	m := Analyze(reg, result, false)
	require.True(t, m.Failing())
	require.Len(t, m.UncoveredErrorRules, 1)
	require.Equal(t, "r.err", m.UncoveredErrorRules[0].RuleID)
}

func TestAnalyze_FilteredUncoveredErrorDoesNotFail(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.err
    severity: error
    enforcement: blocking
    engine:
      kind: builtin
      name: demo
`)
	result := &model.AuditResult{ExecutedRuleIDs: nil}
	m := Analyze(reg, result, true)
	require.False(t, m.Failing())
}

func TestAnalyze_PolicyAggregateEnforcementRate(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.a
    severity: warning
    enforcement: reporting
    engine:
      kind: builtin
      name: demo
  - id: r.b
    severity: warning
    enforcement: reporting
`)
	result := &model.AuditResult{ExecutedRuleIDs: []string{"r.a"}}
	m := Analyze(reg, result, false)
	require.Len(t, m.PolicyAggregates, 1)
	require.Equal(t, 0.5, m.PolicyAggregates[0].EnforcementRate)
}

func TestAnalyze_GapSamplesHighestSeverityFirst(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.warn
    severity: warning
    enforcement: reporting
  - id: r.error
    severity: error
    enforcement: advisory
`)
	result := &model.AuditResult{}
	m := Analyze(reg, result, false)
	require.Len(t, m.GapSamples, 2)
	require.Equal(t, "r.error", m.GapSamples[0].Rule.RuleID)
}

// TestAnalyze_CoveragePartition implements property 2 from spec.md §8:
// every loaded rule appears in exactly one of {enforced, implementable,
// declared_only} (or filtered_out under a filtered run).
func TestAnalyze_CoveragePartition(t *testing.T) {
	reg := loadRegistry(t, `id: demo
rules:
  - id: r.a
    severity: warning
    enforcement: reporting
    engine:
      kind: builtin
      name: demo
  - id: r.b
    severity: warning
    enforcement: reporting
`)
	result := &model.AuditResult{ExecutedRuleIDs: []string{"r.a"}}
	m := Analyze(reg, result, false)
	require.Len(t, m.Entries, len(reg.Rules()))
	for _, e := range m.Entries {
		require.Contains(t, []model.CoverageStatus{
			model.CoverageEnforced, model.CoverageImplementable, model.CoverageDeclaredOnly, model.CoverageFilteredOut,
		}, e.Status)
	}
}

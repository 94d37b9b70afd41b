package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/core-governance/core/internal/governance/auditor"
	"github.com/core-governance/core/internal/governance/coverage"
	"github.com/core-governance/core/internal/governance/evidence"
)

// governanceCmd groups governance-introspection subcommands.
var governanceCmd = &cobra.Command{
	Use:   "governance",
	Short: "Inspect enforcement coverage of the policy catalog",
}

var governanceCoverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Classify every declared rule as enforced, implementable, or declared_only",
	Long: `coverage runs a full audit and classifies every rule the Policy
Registry declares against it: enforced (has an engine and fired),
implementable (has an engine but never fired), or declared_only (no
engine registered at all). Any error-severity rule that has an engine
but was not executed by the audit fails the check; declared_only rules
do not.`,
	RunE: runGovernanceCoverage,
}

func init() {
	rootCmd.AddCommand(governanceCmd)
	governanceCmd.AddCommand(governanceCoverageCmd)
}

func runGovernanceCoverage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newGovernanceEnv(ctx)
	if err != nil {
		return fmt.Errorf("initialize governance environment: %w", err)
	}
	defer func() { _ = env.Close() }()

	result, err := auditor.RunFull(ctx, env.AuditCtx, env.Registry, env.Catalog, auditor.Options{})
	if err != nil {
		return fmt.Errorf("run audit: %w", err)
	}

	cov := coverage.Analyze(env.Registry, result, false)

	writer := evidence.NewWriter(env.ReportsRoot)
	if err := writer.WriteCoverageMap(cov); err != nil {
		return fmt.Errorf("write coverage map: %w", err)
	}

	printCoverageSummary(cov)

	if cov.Failing() {
		os.Exit(1)
	}
	return nil
}

func printCoverageSummary(cov *coverage.Map) {
	if viper.GetBool("quiet") {
		return
	}
	for _, agg := range cov.PolicyAggregates {
		fmt.Fprintf(os.Stdout, "%s: enforced=%d implementable=%d declared_only=%d rate=%.2f\n",
			agg.PolicyID, agg.Enforced, agg.Implementable, agg.DeclaredOnly, agg.EnforcementRate)
	}
	if len(cov.UncoveredErrorRules) > 0 {
		fmt.Fprintf(os.Stdout, "uncovered error-severity rules:\n")
		for _, rule := range cov.UncoveredErrorRules {
			fmt.Fprintf(os.Stdout, "  %s\n", rule.RuleID)
		}
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/core-governance/core/internal/governance/auditor"
	"github.com/core-governance/core/internal/governance/evidence"
	"github.com/core-governance/core/internal/governance/ledger"
	"github.com/core-governance/core/internal/governance/model"
)

// checkCmd groups the audit-related subcommands under "check", the
// way "config" groups config subcommands in the ancestry this tool is
// built from.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run audits against the policy catalog",
}

var (
	checkAuditFiles    []string
	checkAuditPolicies []string
)

var checkAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the repository against every declared policy rule",
	Long: `audit enumerates the source tree, runs every applicable rule-check
engine, and reports an admit/reject verdict with file:line evidence.

Pass --files/--policies to scope the run to a subset of rules (a
filtered audit) — rules the filter excludes are not run. "governance
coverage" always runs its own full audit, so a filtered run does not
change what it reports.`,
	RunE: runCheckAudit,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkAuditCmd)

	checkAuditCmd.Flags().StringSliceVar(&checkAuditFiles, "files", nil, "Limit the audit to rule_id regex patterns matching these")
	checkAuditCmd.Flags().StringSliceVar(&checkAuditPolicies, "policies", nil, "Limit the audit to these policy_ids")
}

func runCheckAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newGovernanceEnv(ctx)
	if err != nil {
		return fmt.Errorf("initialize governance environment: %w", err)
	}
	defer func() { _ = env.Close() }()

	filtered := len(checkAuditFiles) > 0 || len(checkAuditPolicies) > 0

	var result *model.AuditResult
	if filtered {
		result, err = auditor.RunFiltered(ctx, env.AuditCtx, env.Registry, env.Catalog, auditor.Options{}, checkAuditFiles, checkAuditPolicies)
	} else {
		result, err = auditor.RunFull(ctx, env.AuditCtx, env.Registry, env.Catalog, auditor.Options{})
	}
	if err != nil {
		return fmt.Errorf("run audit: %w", err)
	}

	writer := evidence.NewWriter(env.ReportsRoot)
	if err := writer.WriteAuditResult(result); err != nil {
		return fmt.Errorf("write audit result: %w", err)
	}
	if err := writer.WriteFindings(result.Findings); err != nil {
		return fmt.Errorf("write findings: %w", err)
	}

	if session, sessErr := env.AuditCtx.Session(ctx); sessErr == nil {
		_ = session.RecordAuditRun(ctx, ledger.AuditRun{
			AuditID:   result.AuditID,
			StartedAt: result.Timestamp,
			Passed:    result.Passed,
		})
		_ = session.Close()
	}

	printAuditSummary(result)

	if !result.Passed {
		os.Exit(1)
	}
	return nil
}

func printAuditSummary(result *model.AuditResult) {
	if viper.GetBool("quiet") {
		return
	}
	fmt.Fprintf(os.Stdout, "verdict: %s (%d findings, %d rules executed)\n",
		result.Verdict, result.FindingsCount, len(result.ExecutedRuleIDs))
	for _, f := range result.Findings {
		fmt.Fprintf(os.Stdout, "  [%s] %s:%d %s — %s\n", f.Severity, f.FilePath, f.Line, f.CheckID, f.Message)
	}
}

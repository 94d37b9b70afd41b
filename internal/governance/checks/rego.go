package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/catalog"
	"github.com/core-governance/core/internal/governance/model"
	"github.com/core-governance/core/internal/policy"
)

// RegoCheck wraps an opa/rego query engine as a catalog.Check: it binds
// every rule_id in ruleIDs to the deny/warn output of engine's loaded
// policy bundle, evaluated once per file per spec.md §5's DOMAIN STACK
// description of engine.kind=="rego" rules. Following the same
// convention as OPA's constraint templates, a deny/warn message may be
// prefixed with "<rule_id>: " to attribute the finding to one specific
// rule among several bound to the same bundle; an unprefixed message is
// attributed to ruleIDs[0].
func RegoCheck(ruleIDs []string, fs afero.Fs, engine *policy.Engine) catalog.Check {
	return catalog.Check{
		Name:        "governance.rego_policy",
		RuleIDs:     ruleIDs,
		Category:    "rego_policy",
		TargetScope: catalog.ScopeFile,
		Verify: func(ctx context.Context, target catalog.Target) ([]model.Finding, error) {
			content, err := afero.ReadFile(fs, target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}

			primary := ""
			if len(ruleIDs) > 0 {
				primary = ruleIDs[0]
			}
			decision, err := engine.EvaluateFile(ctx, primary, target.Path, string(content))
			if err != nil {
				return nil, fmt.Errorf("evaluate rego policy for %s: %w", target.Path, err)
			}

			var findings []model.Finding
			for _, msg := range decision.Violations {
				findings = append(findings, model.Finding{
					CheckID:  attributeRegoRule(msg, ruleIDs),
					Severity: model.SeverityError,
					Message:  msg,
					FilePath: target.Path,
				})
			}
			for _, msg := range decision.Warnings {
				findings = append(findings, model.Finding{
					CheckID:  attributeRegoRule(msg, ruleIDs),
					Severity: model.SeverityWarning,
					Message:  msg,
					FilePath: target.Path,
				})
			}
			return findings, nil
		},
	}
}

// attributeRegoRule matches a deny/warn message's "<rule_id>: " prefix
// against ruleIDs, falling back to ruleIDs[0] when none match.
func attributeRegoRule(msg string, ruleIDs []string) string {
	for _, id := range ruleIDs {
		if strings.HasPrefix(msg, id+":") {
			return id
		}
	}
	if len(ruleIDs) > 0 {
		return ruleIDs[0]
	}
	return ""
}

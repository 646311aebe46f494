// Package evaluate runs every compliance rule against the ingested document
// corpus through the judge and collects the resulting violations.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"auditflow/internal/judge"
	"auditflow/internal/schema"
)

// RuleJudge is the slice of the judge the evaluator needs.
type RuleJudge interface {
	EvaluateRule(ctx context.Context, rule schema.Rule, corpus string) (*judge.EvaluationVerdict, error)
}

// Evaluator matches documents against compliance rules.
type Evaluator struct {
	judge  RuleJudge
	logger *slog.Logger
}

// New constructs an Evaluator.
func New(j RuleJudge, logger *slog.Logger) *Evaluator {
	return &Evaluator{judge: j, logger: logger}
}

// Evaluate invokes the judge once per rule against the entire corpus. The
// model sees all documents together, labeled by source, in a single call per
// rule. A failed or unparseable call contributes zero violations for that
// rule and a warning; other rules are unaffected.
func (e *Evaluator) Evaluate(ctx context.Context, rules []schema.Rule, docs []schema.DocumentBlock) ([]schema.Violation, []string) {
	corpus := BuildCorpus(docs)

	var violations []schema.Violation
	var warnings []string

	for _, rule := range rules {
		verdict, err := e.judge.EvaluateRule(ctx, rule, corpus)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("evaluate: rule %s: %v", rule.ID, err))
			e.logger.Warn("rule evaluation failed", "rule_id", rule.ID, "error", err)
			continue
		}
		if verdict == nil {
			warnings = append(warnings, fmt.Sprintf("evaluate: rule %s: unparseable judge response", rule.ID))
			continue
		}
		for _, fv := range verdict.Violations {
			violations = append(violations, wrapViolation(rule, fv))
		}
	}
	return violations, warnings
}

// wrapViolation converts a judge finding into a Violation. Severity is
// copied from the rule verbatim, never taken from model output.
func wrapViolation(rule schema.Rule, fv judge.FoundViolation) schema.Violation {
	evidence := fv.Evidence
	if evidence == "" {
		evidence = "No evidence provided"
	}
	confidence := judge.DefaultConfidence
	if fv.Confidence != nil {
		confidence = *fv.Confidence
	}
	return schema.Violation{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Evidence:    evidence,
		Severity:    rule.Severity,
		Explanation: fv.Explanation,
		Location:    fv.Location,
		Confidence:  confidence,
	}
}

// BuildCorpus concatenates all documents into one source-labeled block of
// text for a single judge call.
func BuildCorpus(docs []schema.DocumentBlock) string {
	var sb strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&sb, "--- Document %d: %s (%s) ---\n", i+1, doc.Metadata.FileName, doc.DocType)
		sb.WriteString(doc.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

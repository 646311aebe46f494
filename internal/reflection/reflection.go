// Package reflection re-examines low-confidence violations through the judge
// to weed out false positives. The loop is fail-open: when the rule cannot
// be found or the judge call fails, the violation is kept unchanged.
package reflection

import (
	"context"
	"log/slog"

	"auditflow/internal/judge"
	"auditflow/internal/schema"
)

// ViolationJudge is the slice of the judge the reflection loop needs.
type ViolationJudge interface {
	Reflect(ctx context.Context, v schema.Violation, rule schema.Rule) (*judge.ReflectionVerdict, error)
}

// Reflector performs one reflection pass over a violation set.
type Reflector struct {
	judge               ViolationJudge
	confidenceThreshold float64
	logger              *slog.Logger
}

// New constructs a Reflector. A violation is considered uncertain when its
// confidence is below threshold.
func New(j ViolationJudge, threshold float64, logger *slog.Logger) *Reflector {
	return &Reflector{judge: j, confidenceThreshold: threshold, logger: logger}
}

// Result is the outcome of one reflection pass.
type Result struct {
	Violations      []schema.Violation
	Notes           []schema.ReflectionNote
	NeedsRefinement bool
}

// Run reflects on every uncertain violation and returns the surviving set,
// the audit-trail notes, and whether any survivor is still uncertain.
// Violations that were not selected pass through unchanged. iteration is the
// iteration number this pass represents, recorded on each note.
func (r *Reflector) Run(ctx context.Context, violations []schema.Violation, rules []schema.Rule, iteration int) Result {
	ruleByID := make(map[string]schema.Rule, len(rules))
	for _, rule := range rules {
		ruleByID[rule.ID] = rule
	}

	var result Result
	for _, v := range violations {
		if v.Confidence >= r.confidenceThreshold {
			result.Violations = append(result.Violations, v)
			continue
		}

		kept, updated, note := r.reflectOne(ctx, v, ruleByID)
		note.Iteration = iteration
		result.Notes = append(result.Notes, note)
		if kept {
			result.Violations = append(result.Violations, updated)
		}
	}

	for _, v := range result.Violations {
		if v.Confidence < r.confidenceThreshold {
			result.NeedsRefinement = true
			break
		}
	}
	return result
}

// reflectOne re-judges a single violation. Returns whether the violation is
// kept, its (possibly updated) value, and the audit note.
func (r *Reflector) reflectOne(ctx context.Context, v schema.Violation, ruleByID map[string]schema.Rule) (bool, schema.Violation, schema.ReflectionNote) {
	rule, ok := ruleByID[v.RuleID]
	if !ok {
		// Cannot reflect without rule context; fail open.
		r.logger.Warn("rule not found for reflection", "rule_id", v.RuleID)
		return true, v, note(v, "no_rule", 0, 0, schema.ActionConfirmed)
	}

	verdict, err := r.judge.Reflect(ctx, v, rule)
	if err != nil || verdict == nil {
		if err != nil {
			r.logger.Warn("reflection failed", "rule_id", v.RuleID, "error", err)
		}
		return true, v, note(v, "reflection_failed", 0, 0, schema.ActionConfirmed)
	}

	keep := true
	if verdict.IsValidViolation != nil {
		keep = *verdict.IsValidViolation
	}
	newConfidence := v.Confidence
	if verdict.Confidence != nil {
		newConfidence = *verdict.Confidence
	}

	action := schema.ActionConfirmed
	if !keep {
		action = schema.ActionRemoved
	}
	n := note(v, verdict.Reasoning, v.Confidence, newConfidence, action)

	if !keep {
		return false, v, n
	}

	v.Confidence = newConfidence
	if verdict.RefinedExplanation != "" {
		v.Explanation = verdict.RefinedExplanation
	}
	return true, v, n
}

func note(v schema.Violation, reassessment string, before, after float64, action schema.ReflectionAction) schema.ReflectionNote {
	return schema.ReflectionNote{
		OriginalFinding:  v.RuleID + ": " + v.RuleName,
		Reassessment:     reassessment,
		ConfidenceBefore: before,
		ConfidenceAfter:  after,
		ActionTaken:      action,
	}
}

// Package risk provides deterministic local logic for compliance scoring and
// risk classification. No LLM calls are made here.
package risk

import (
	"math"

	"auditflow/internal/schema"
)

// Weights are the per-severity violation weights.
type Weights struct {
	High   float64
	Medium float64
	Low    float64
}

// Thresholds are the tier cutoffs and pass criteria.
type Thresholds struct {
	// CriticalComplianceFloor and friends are compliance percentages below
	// which the corresponding tier applies.
	CriticalComplianceFloor float64
	HighComplianceFloor     float64
	ModerateComplianceFloor float64
	// HighSeverityMax is the high-severity count at which risk becomes
	// critical and the audit fails.
	HighSeverityMax int
	// MediumCountMax is the medium-severity count above which risk is at
	// least moderate.
	MediumCountMax int
	// PassThreshold is the minimum compliance percentage to pass.
	PassThreshold float64
}

// Classifier computes risk scores from violation sets. It is a pure function
// of its inputs; calling Classify twice on the same inputs yields identical
// results.
type Classifier struct {
	weights    Weights
	thresholds Thresholds
}

// New constructs a Classifier.
func New(weights Weights, thresholds Thresholds) *Classifier {
	return &Classifier{weights: weights, thresholds: thresholds}
}

// Classify recomputes the full risk score from the current violation set.
func (c *Classifier) Classify(violations []schema.Violation, rules []schema.Rule) schema.RiskScore {
	high, medium, low := CountBySeverity(violations)
	compliance := c.complianceScore(high, medium, low, len(rules))

	return schema.RiskScore{
		HighCount:            high,
		MediumCount:          medium,
		LowCount:             low,
		TotalIssues:          len(violations),
		CompliancePercentage: compliance,
		OverallRisk:          c.overallRisk(high, medium, compliance),
	}
}

// Passed applies the audit pass criteria. The three conditions are
// independent triggers; any one failing fails the whole audit.
func (c *Classifier) Passed(score schema.RiskScore) bool {
	if score.CompliancePercentage < c.thresholds.PassThreshold {
		return false
	}
	if score.HighCount >= c.thresholds.HighSeverityMax {
		return false
	}
	if score.OverallRisk == schema.RiskCritical {
		return false
	}
	return true
}

// complianceScore computes the weighted compliance percentage, rounded to
// two decimals. The maximum weighted score assumes every rule could produce
// a high-severity violation. With no rules, compliance is 100.
func (c *Classifier) complianceScore(high, medium, low, ruleCount int) float64 {
	if ruleCount == 0 {
		return 100.0
	}
	weighted := float64(high)*c.weights.High +
		float64(medium)*c.weights.Medium +
		float64(low)*c.weights.Low
	maxWeighted := float64(ruleCount) * c.weights.High
	if maxWeighted == 0 {
		return 100.0
	}
	compliance := math.Max(0, 100-(weighted/maxWeighted*100))
	return math.Round(compliance*100) / 100
}

// overallRisk resolves the risk tier. The ladder is evaluated top-down;
// first match wins.
func (c *Classifier) overallRisk(high, medium int, compliance float64) schema.RiskTier {
	switch {
	case high >= c.thresholds.HighSeverityMax || compliance < c.thresholds.CriticalComplianceFloor:
		return schema.RiskCritical
	case high > 0 || compliance < c.thresholds.HighComplianceFloor:
		return schema.RiskHigh
	case medium > c.thresholds.MediumCountMax || compliance < c.thresholds.ModerateComplianceFloor:
		return schema.RiskModerate
	default:
		return schema.RiskLow
	}
}

// CountBySeverity returns the count of violations at each severity level.
func CountBySeverity(violations []schema.Violation) (high, medium, low int) {
	for _, v := range violations {
		switch v.Severity {
		case schema.SeverityHigh:
			high++
		case schema.SeverityMedium:
			medium++
		case schema.SeverityLow:
			low++
		}
	}
	return
}

package pipeline

import "auditflow/internal/schema"

// RuleMatch summarizes one rule's evaluation outcome before risk scoring.
type RuleMatch struct {
	RuleName        string `json:"rule_name"`
	ViolationsFound int    `json:"violations_found"`
}

// AuditState is the shared session object for one audit run. Exactly one
// instance exists per run. The pipeline owns it and passes it by reference
// to each stage; a stage may read any field but writes only the fields that
// are its documented output.
type AuditState struct {
	// Input data.
	Documents     []schema.DocumentBlock
	RawInputPaths []string

	// Compliance rules.
	Rules                []schema.Rule
	ActiveRuleCategories []string

	// Analysis results.
	Violations         []schema.Violation
	PreliminaryMatches map[string]RuleMatch

	// Risk scoring. RiskScores is nil until the classifier has run and is
	// always recomputed in full, never patched.
	RiskScores *schema.RiskScore

	// Reflection loop data.
	ReflectionEnabled bool
	ReflectionNotes   []schema.ReflectionNote
	NeedsRefinement   bool
	CurrentIteration  int

	// Final outputs.
	FinalReport *schema.AuditReport
	AuditPassed bool

	// Metadata and tracking.
	ProcessingStage Stage
	Errors          []string
	Warnings        []string
}

// NewAuditState creates the initial state for a run.
func NewAuditState(inputPaths []string) *AuditState {
	return &AuditState{
		RawInputPaths:      inputPaths,
		PreliminaryMatches: map[string]RuleMatch{},
		ReflectionEnabled:  true,
		ProcessingStage:    StageInitialized,
	}
}

// AddError appends a stage failure description.
func (s *AuditState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// AddWarnings appends recoverable per-item failure descriptions.
func (s *AuditState) AddWarnings(msgs ...string) {
	s.Warnings = append(s.Warnings, msgs...)
}

// UncertainViolations returns the violations whose confidence is below
// threshold.
func (s *AuditState) UncertainViolations(threshold float64) []schema.Violation {
	var out []schema.Violation
	for _, v := range s.Violations {
		if v.Confidence < threshold {
			out = append(out, v)
		}
	}
	return out
}

// Package schema defines the canonical data types shared by every audit stage.
package schema

// Severity represents the severity level of a rule or violation.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity converts a string to a Severity constant.
// Returns false for unrecognized values.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s), true
	}
	return "", false
}

// RiskTier is the coarse overall risk classification of an audit.
type RiskTier string

const (
	RiskCritical RiskTier = "critical"
	RiskHigh     RiskTier = "high"
	RiskModerate RiskTier = "moderate"
	RiskLow      RiskTier = "low"
)

// ReflectionAction records what the reflection pass did with a finding.
type ReflectionAction string

const (
	ActionConfirmed ReflectionAction = "confirmed"
	// ActionRevised is declared for taxonomy completeness; the current
	// reflection algorithm only ever produces confirmed or removed.
	ActionRevised ReflectionAction = "revised"
	ActionRemoved ReflectionAction = "removed"
)

// DocType tags the inferred kind of an ingested document.
type DocType string

const (
	DocReadme        DocType = "readme"
	DocPolicy        DocType = "policy"
	DocConfig        DocType = "config"
	DocCode          DocType = "code"
	DocRequirements  DocType = "requirements"
	DocLogs          DocType = "logs"
	DocResume        DocType = "resume"
	DocDocumentation DocType = "documentation"
)

// Rule is a single compliance rule. Rules are loaded once per run and are
// read-only afterward.
type Rule struct {
	ID          string   `json:"rule_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Criteria    string   `json:"criteria"`
	Examples    []string `json:"examples,omitempty"`
}

// DocumentMeta holds file-level metadata for a document block.
type DocumentMeta struct {
	FileName  string `json:"file_name"`
	Extension string `json:"file_extension"`
	SizeBytes int    `json:"size_bytes"`
	LineCount int    `json:"line_count"`
}

// DocumentBlock is one ingested document, normalized and classified.
// Created by ingestion; read-only afterward.
type DocumentBlock struct {
	Source   string       `json:"source"`
	Content  string       `json:"content"`
	DocType  DocType      `json:"doc_type"`
	Metadata DocumentMeta `json:"metadata"`
}

// Violation is one instance of a rule being broken. Severity is copied from
// the rule at creation time and never recomputed. Only the reflection pass
// may mutate confidence and explanation, or remove the violation.
type Violation struct {
	RuleID      string   `json:"rule_id"`
	RuleName    string   `json:"rule_name"`
	Evidence    string   `json:"evidence"`
	Severity    Severity `json:"severity"`
	Explanation string   `json:"explanation"`
	Location    string   `json:"location,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// RiskScore is the derived risk assessment. It is recomputed in full from
// the current violation set every time the classifier runs.
type RiskScore struct {
	HighCount            int      `json:"high_count"`
	MediumCount          int      `json:"medium_count"`
	LowCount             int      `json:"low_count"`
	TotalIssues          int      `json:"total_issues"`
	CompliancePercentage float64  `json:"compliance_percentage"`
	OverallRisk          RiskTier `json:"overall_risk"`
}

// ReflectionNote is one append-only audit trail entry from the reflection
// loop. Notes are never mutated once appended.
type ReflectionNote struct {
	Iteration        int              `json:"iteration"`
	OriginalFinding  string           `json:"original_finding"`
	Reassessment     string           `json:"reassessment"`
	ConfidenceBefore float64          `json:"confidence_before"`
	ConfidenceAfter  float64          `json:"confidence_after"`
	ActionTaken      ReflectionAction `json:"action_taken"`
}

// DocumentEvidence traces one analyzed document in the final report.
type DocumentEvidence struct {
	Source string  `json:"source"`
	Type   DocType `json:"type"`
	Size   int     `json:"size"`
}

// RuleEvidence traces one applied rule in the final report.
type RuleEvidence struct {
	RuleID   string `json:"rule_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ViolationEvidence traces one violation back to its source excerpt.
type ViolationEvidence struct {
	RuleID          string `json:"rule_id"`
	Location        string `json:"location,omitempty"`
	EvidenceSnippet string `json:"evidence_snippet"`
}

// TraceableEvidence links report findings back to documents, rules, and
// source excerpts.
type TraceableEvidence struct {
	AuditTimestamp      string              `json:"audit_timestamp"`
	DocumentsAnalyzed   []DocumentEvidence  `json:"documents_analyzed"`
	RulesApplied        []RuleEvidence      `json:"rules_applied"`
	ViolationEvidence   []ViolationEvidence `json:"violation_evidence"`
	ReflectionPerformed bool                `json:"reflection_performed"`
}

// AuditReport is the final structured output of an audit run.
type AuditReport struct {
	Timestamp        string            `json:"timestamp"`
	ComplianceScore  float64           `json:"compliance_score"`
	RiskAssessment   RiskScore         `json:"risk_assessment"`
	Violations       []Violation       `json:"violations"`
	MissingArtifacts []string          `json:"missing_artifacts"`
	Recommendations  []string          `json:"recommendations"`
	Summary          string            `json:"summary"`
	Evidence         TraceableEvidence `json:"traceable_evidence"`
}

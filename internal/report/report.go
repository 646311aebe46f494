// Package report assembles the final audit report and delivers it to the
// configured outputs.
package report

import (
	"fmt"
	"strings"
	"time"

	"auditflow/internal/pipeline"
	"auditflow/internal/schema"
)

// maxRecommendations caps the recommendations section.
const maxRecommendations = 10

// ruleRecommendations maps rule IDs to their remediation advice.
var ruleRecommendations = map[string]string{
	"SEC-001":  "Encrypt all passwords using approved algorithms (bcrypt, argon2, PBKDF2)",
	"SEC-002":  "Remove hardcoded API keys and use environment variables",
	"SEC-003":  "Implement input validation and sanitization for all user inputs",
	"SEC-004":  "Enable logging for authentication, authorization, and critical operations",
	"SEC-005":  "Use HTTPS/TLS for all network communications",
	"DOC-001":  "Create a README.md file with project overview and setup instructions",
	"DOC-002":  "Document security policies and incident response procedures",
	"DOC-003":  "Create dependency manifest (requirements.txt, package.json, etc.)",
	"PRIV-001": "Document PII handling, collection, and storage policies",
	"PRIV-002": "Define and document data retention and deletion policies",
}

// Builder assembles audit reports from a completed pipeline state.
type Builder struct {
	now func() time.Time
}

// NewBuilder constructs a Builder.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Build consolidates findings, scores, and recommendations into the final
// report structure. A missing risk score produces an incomplete-but-valid
// report rather than a failure.
func (b *Builder) Build(state *pipeline.AuditState) *schema.AuditReport {
	ts := b.now().Format(time.RFC3339)

	var riskScore schema.RiskScore
	score := 0.0
	if state.RiskScores != nil {
		riskScore = *state.RiskScores
		score = riskScore.CompliancePercentage
	}

	return &schema.AuditReport{
		Timestamp:        ts,
		ComplianceScore:  score,
		RiskAssessment:   riskScore,
		Violations:       state.Violations,
		MissingArtifacts: missingArtifacts(state),
		Recommendations:  recommendations(state.Violations),
		Summary:          summary(state),
		Evidence:         traceableEvidence(state, ts),
	}
}

// recommendations generates remediation advice: rule-specific entries for
// high-severity violations first, then pattern-based additions, capped at
// maxRecommendations with duplicates dropped.
func recommendations(violations []schema.Violation) []string {
	var recs []string
	seen := map[string]bool{}
	add := func(rec string) {
		if rec != "" && !seen[rec] {
			seen[rec] = true
			recs = append(recs, rec)
		}
	}

	for _, v := range violations {
		if v.Severity != schema.SeverityHigh {
			continue
		}
		rec, ok := ruleRecommendations[v.RuleID]
		if !ok {
			rec = "Address violation: " + v.RuleName
		}
		add(rec)
	}

	for _, v := range violations {
		evidence := strings.ToLower(v.Evidence)
		name := strings.ToLower(v.RuleName)
		if strings.Contains(evidence, "password") {
			add("Implement secure password hashing using bcrypt or argon2")
		}
		if strings.Contains(evidence, "api") || strings.Contains(evidence, "key") {
			add("Move all API keys and secrets to environment variables or secure vault")
		}
		if strings.Contains(name, "logging") {
			add("Enable comprehensive logging for security-relevant events")
		}
		if strings.Contains(name, "readme") {
			add("Create comprehensive README.md with setup and usage instructions")
		}
	}

	if len(violations) > 10 {
		add("Conduct systematic security review and implement compliance framework")
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// missingArtifacts lists expected project artifacts absent from the corpus.
func missingArtifacts(state *pipeline.AuditState) []string {
	var missing []string

	names := make([]string, 0, len(state.Documents))
	for _, doc := range state.Documents {
		names = append(names, strings.ToLower(doc.Metadata.FileName))
	}
	anyContains := func(token string) bool {
		for _, n := range names {
			if strings.Contains(n, token) {
				return true
			}
		}
		return false
	}

	if !anyContains("readme") {
		missing = append(missing, "README.md - Project documentation")
	}
	if !anyContains("security") {
		missing = append(missing, "SECURITY.md - Security policy documentation")
	}
	if !anyContains("requirements") && !anyContains("package") {
		missing = append(missing, "Dependency manifest (requirements.txt, package.json)")
	}
	if !anyContains("license") {
		missing = append(missing, "LICENSE - License information")
	}

	seen := map[string]bool{}
	for _, m := range missing {
		seen[m] = true
	}
	for _, v := range state.Violations {
		if strings.Contains(strings.ToLower(v.Explanation), "must exist") {
			artifact := strings.ReplaceAll(v.RuleName, " Required", "")
			artifact = strings.ReplaceAll(artifact, " Must Exist", "")
			if !seen[artifact] {
				seen[artifact] = true
				missing = append(missing, artifact)
			}
		}
	}
	return missing
}

// summary produces the executive summary text block.
func summary(state *pipeline.AuditState) string {
	rs := state.RiskScores
	if rs == nil {
		return "Audit incomplete - no risk assessment available"
	}

	result := "FAILED"
	if state.AuditPassed {
		result = "PASSED"
	}

	var sb strings.Builder
	sb.WriteString("Compliance Audit Summary\n")
	sb.WriteString("========================\n\n")
	fmt.Fprintf(&sb, "Audit Result: %s\n", result)
	fmt.Fprintf(&sb, "Compliance Score: %.1f%%\n", rs.CompliancePercentage)
	fmt.Fprintf(&sb, "Overall Risk Level: %s\n\n", strings.ToUpper(string(rs.OverallRisk)))
	sb.WriteString("Issue Breakdown:\n")
	fmt.Fprintf(&sb, "- Critical Issues: %d\n", rs.HighCount)
	fmt.Fprintf(&sb, "- Moderate Issues: %d\n", rs.MediumCount)
	fmt.Fprintf(&sb, "- Low Priority Issues: %d\n", rs.LowCount)
	fmt.Fprintf(&sb, "- Total Issues: %d\n\n", rs.TotalIssues)
	fmt.Fprintf(&sb, "Documents Analyzed: %d\n", len(state.Documents))
	fmt.Fprintf(&sb, "Rules Evaluated: %d\n", len(state.Rules))
	if len(state.ReflectionNotes) > 0 {
		fmt.Fprintf(&sb, "Reflection Notes: %d\n", len(state.ReflectionNotes))
	}
	if rs.HighCount > 0 {
		fmt.Fprintf(&sb, "\n%d critical issue(s) require immediate attention.\n", rs.HighCount)
	}
	if state.AuditPassed {
		sb.WriteString("\nThe project meets minimum compliance requirements.\n")
		sb.WriteString("Address remaining issues to improve security posture.\n")
	} else {
		sb.WriteString("\nThe project does not meet minimum compliance requirements.\n")
		sb.WriteString("Review the recommendations section for required remediation steps.\n")
	}
	return sb.String()
}

// traceableEvidence links every finding back to its documents, rules, and
// source excerpts.
func traceableEvidence(state *pipeline.AuditState, ts string) schema.TraceableEvidence {
	ev := schema.TraceableEvidence{
		AuditTimestamp:      ts,
		ReflectionPerformed: len(state.ReflectionNotes) > 0,
	}
	for _, doc := range state.Documents {
		ev.DocumentsAnalyzed = append(ev.DocumentsAnalyzed, schema.DocumentEvidence{
			Source: doc.Source,
			Type:   doc.DocType,
			Size:   doc.Metadata.SizeBytes,
		})
	}
	for _, rule := range state.Rules {
		ev.RulesApplied = append(ev.RulesApplied, schema.RuleEvidence{
			RuleID:   rule.ID,
			Name:     rule.Name,
			Category: rule.Category,
		})
	}
	for _, v := range state.Violations {
		snippet := v.Evidence
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		ev.ViolationEvidence = append(ev.ViolationEvidence, schema.ViolationEvidence{
			RuleID:          v.RuleID,
			Location:        v.Location,
			EvidenceSnippet: snippet,
		})
	}
	return ev
}

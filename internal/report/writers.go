package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auditflow/internal/pipeline"
	"auditflow/internal/schema"
)

// Dispatcher delivers a finished report to the console and to timestamped
// JSON and text files under the output directory. Individual output failures
// are collected rather than short-circuiting: a broken console pipe must not
// prevent the file reports from being written.
type Dispatcher struct {
	outputDir string
	console   io.Writer
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher constructs a Dispatcher. Pass io.Discard as console for
// quiet operation (e.g., behind the HTTP API).
func NewDispatcher(outputDir string, console io.Writer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{outputDir: outputDir, console: console, logger: logger, now: time.Now}
}

// Dispatch renders all configured outputs for the state's final report.
func (d *Dispatcher) Dispatch(state *pipeline.AuditState) error {
	rep := state.FinalReport
	if rep == nil {
		return errors.New("report: no report available to output")
	}

	var errs []error
	if err := d.writeConsole(state, rep); err != nil {
		errs = append(errs, fmt.Errorf("report: console output: %w", err))
	}
	if path, err := d.saveJSON(rep); err != nil {
		errs = append(errs, fmt.Errorf("report: json output: %w", err))
	} else {
		d.logger.Info("json report saved", "path", path)
	}
	if path, err := d.saveSummary(rep); err != nil {
		errs = append(errs, fmt.Errorf("report: summary output: %w", err))
	} else {
		d.logger.Info("summary report saved", "path", path)
	}
	return errors.Join(errs...)
}

// writeConsole renders the report for terminal display, violations grouped
// by severity.
func (d *Dispatcher) writeConsole(state *pipeline.AuditState, rep *schema.AuditReport) error {
	w := d.console
	rule := strings.Repeat("=", 80)
	thin := strings.Repeat("-", 80)

	if _, err := fmt.Fprintf(w, "\n%s\nCOMPLIANCE AUDIT REPORT\n%s\n%s\n", rule, rule, rep.Summary); err != nil {
		return err
	}

	if len(rep.Violations) > 0 {
		fmt.Fprintf(w, "\n%s\nVIOLATIONS FOUND\n%s\n", thin, thin)
		writeSeverityGroup(w, "CRITICAL SEVERITY", rep.Violations, schema.SeverityHigh)
		writeSeverityGroup(w, "MODERATE SEVERITY", rep.Violations, schema.SeverityMedium)
		writeSeverityGroup(w, "LOW SEVERITY", rep.Violations, schema.SeverityLow)
	}

	if len(rep.MissingArtifacts) > 0 {
		fmt.Fprintf(w, "\n%s\nMISSING ARTIFACTS\n%s\n", thin, thin)
		for _, a := range rep.MissingArtifacts {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}

	if len(rep.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\nRECOMMENDATIONS\n%s\n", thin, thin)
		for i, rec := range rep.Recommendations {
			fmt.Fprintf(w, "  %d. %s\n", i+1, rec)
		}
	}

	if len(state.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\nERRORS ENCOUNTERED\n%s\n", thin, thin)
		for _, e := range state.Errors {
			fmt.Fprintf(w, "  ! %s\n", e)
		}
	}

	_, err := fmt.Fprintf(w, "\n%s\n", rule)
	return err
}

func writeSeverityGroup(w io.Writer, title string, violations []schema.Violation, sev schema.Severity) {
	var group []schema.Violation
	for _, v := range violations {
		if v.Severity == sev {
			group = append(group, v)
		}
	}
	if len(group) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, v := range group {
		location := v.Location
		if location == "" {
			location = "Not specified"
		}
		evidence := v.Evidence
		if len(evidence) > 150 {
			evidence = evidence[:150] + "..."
		}
		fmt.Fprintf(w, "\n  [%s] %s\n", v.RuleID, v.RuleName)
		fmt.Fprintf(w, "  Location: %s\n", location)
		fmt.Fprintf(w, "  Confidence: %.0f%%\n", v.Confidence*100)
		fmt.Fprintf(w, "  Evidence: %s\n", evidence)
		fmt.Fprintf(w, "  Explanation: %s\n", v.Explanation)
	}
}

// saveJSON writes the report to audit_report_<timestamp>.json in the output
// directory. The JSON output round-trips back to an equal AuditReport.
func (d *Dispatcher) saveJSON(rep *schema.AuditReport) (string, error) {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(d.outputDir, fmt.Sprintf("audit_report_%s.json", d.now().Format("20060102_150405")))
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// saveSummary writes the human-readable text summary to
// audit_summary_<timestamp>.txt in the output directory.
func (d *Dispatcher) saveSummary(rep *schema.AuditReport) (string, error) {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(d.outputDir, fmt.Sprintf("audit_summary_%s.txt", d.now().Format("20060102_150405")))

	var sb strings.Builder
	rule := strings.Repeat("=", 80)
	thin := strings.Repeat("-", 80)
	fmt.Fprintf(&sb, "%s\nCOMPLIANCE AUDIT SUMMARY REPORT\n%s\n\n", rule, rule)
	sb.WriteString(rep.Summary)
	sb.WriteString("\n\n")

	if len(rep.Violations) > 0 {
		fmt.Fprintf(&sb, "%s\nDETAILED VIOLATIONS\n%s\n\n", thin, thin)
		for _, v := range rep.Violations {
			location := v.Location
			if location == "" {
				location = "Not specified"
			}
			fmt.Fprintf(&sb, "[%s] %s\n", v.RuleID, v.RuleName)
			fmt.Fprintf(&sb, "Severity: %s\n", strings.ToUpper(string(v.Severity)))
			fmt.Fprintf(&sb, "Location: %s\n", location)
			fmt.Fprintf(&sb, "Confidence: %.0f%%\n", v.Confidence*100)
			fmt.Fprintf(&sb, "Evidence: %s\n", v.Evidence)
			fmt.Fprintf(&sb, "Explanation: %s\n\n", v.Explanation)
		}
	}

	if len(rep.Recommendations) > 0 {
		fmt.Fprintf(&sb, "%s\nRECOMMENDATIONS\n%s\n\n", thin, thin)
		for i, rec := range rep.Recommendations {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, rec)
		}
		sb.WriteString("\n")
	}

	if len(rep.MissingArtifacts) > 0 {
		fmt.Fprintf(&sb, "%s\nMISSING ARTIFACTS\n%s\n\n", thin, thin)
		for _, a := range rep.MissingArtifacts {
			fmt.Fprintf(&sb, "- %s\n", a)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "%s\nReport generated: %s\n%s\n", rule, rep.Timestamp, rule)

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Package rules loads the compliance rule catalog. Rules come from JSON
// definition files in a configured directory, falling back to the builtin
// catalog when the directory is absent or yields nothing usable.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"auditflow/internal/schema"
)

// ruleFile is the on-disk shape of a rule definition. Severity stays a plain
// string until validation so a bad value skips one entry instead of failing
// the whole file.
type ruleFile struct {
	RuleID      string   `json:"rule_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Criteria    string   `json:"criteria"`
	Examples    []string `json:"examples"`
}

// Load returns the rule catalog for a run. Each .json file under dir may
// hold a single rule object or an array of them. Malformed files and entries
// are skipped and reported as warnings; no load failure is fatal. When no
// rules are found the builtin catalog is returned.
func Load(dir string) ([]schema.Rule, []string) {
	var loaded []schema.Rule
	var warnings []string

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
					continue
				}
				path := filepath.Join(dir, e.Name())
				fileRules, warns := loadFile(path)
				loaded = append(loaded, fileRules...)
				warnings = append(warnings, warns...)
			}
		}
	}

	if len(loaded) == 0 {
		return Builtin(), warnings
	}
	return loaded, warnings
}

// loadFile parses one rule definition file.
func loadFile(path string) ([]schema.Rule, []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []string{fmt.Sprintf("rules: could not read %s: %v", path, err)}
	}

	// A file is either a single object or an array of objects.
	var raw []ruleFile
	if err := json.Unmarshal(data, &raw); err != nil {
		var single ruleFile
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, []string{fmt.Sprintf("rules: could not parse %s: %v", path, err)}
		}
		raw = []ruleFile{single}
	}

	var out []schema.Rule
	var warnings []string
	for i, rf := range raw {
		rule, err := validate(rf)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("rules: %s entry %d skipped: %v", path, i, err))
			continue
		}
		out = append(out, rule)
	}
	return out, warnings
}

// validate converts a raw entry into a schema.Rule, applying the same
// defaults the catalog has always used for optional fields.
func validate(rf ruleFile) (schema.Rule, error) {
	if rf.RuleID == "" {
		return schema.Rule{}, fmt.Errorf("missing rule_id")
	}
	sev := schema.SeverityMedium
	if rf.Severity != "" {
		parsed, ok := schema.ParseSeverity(strings.ToLower(rf.Severity))
		if !ok {
			return schema.Rule{}, fmt.Errorf("invalid severity %q", rf.Severity)
		}
		sev = parsed
	}
	name := rf.Name
	if name == "" {
		name = "Unnamed Rule"
	}
	category := rf.Category
	if category == "" {
		category = "general"
	}
	return schema.Rule{
		ID:          rf.RuleID,
		Name:        name,
		Description: rf.Description,
		Category:    category,
		Severity:    sev,
		Criteria:    rf.Criteria,
		Examples:    rf.Examples,
	}, nil
}

// Categories returns the distinct categories present in rs, in first-seen
// order.
func Categories(rs []schema.Rule) []string {
	seen := make(map[string]bool, len(rs))
	var out []string
	for _, r := range rs {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

// Builtin returns the builtin compliance catalog: ten rules spanning
// security, documentation, and data-privacy checks. Callers receive a fresh
// slice each time.
func Builtin() []schema.Rule {
	return []schema.Rule{
		{
			ID:          "SEC-001",
			Name:        "Password Encryption Required",
			Description: "All passwords must be encrypted using approved algorithms (bcrypt, argon2, PBKDF2)",
			Category:    "security",
			Severity:    schema.SeverityHigh,
			Criteria:    "Check for password storage without encryption. Look for plaintext password variables, unencrypted database fields, or direct password storage.",
			Examples:    []string{"password = 'plaintext123'", "db.store('password', user_input)"},
		},
		{
			ID:          "SEC-002",
			Name:        "API Keys Must Not Be Hardcoded",
			Description: "API keys and secrets must be stored in environment variables or secure vaults",
			Category:    "security",
			Severity:    schema.SeverityHigh,
			Criteria:    "Identify hardcoded API keys, tokens, or credentials in source code",
			Examples:    []string{"API_KEY = 'sk-12345abcde'", "token = '0123456789abcdef'"},
		},
		{
			ID:          "SEC-003",
			Name:        "Input Validation Required",
			Description: "All user inputs must be validated and sanitized to prevent injection attacks",
			Category:    "security",
			Severity:    schema.SeverityHigh,
			Criteria:    "Check for user input handling without validation or sanitization",
			Examples:    []string{"query = f'SELECT * FROM users WHERE id={user_id}'"},
		},
		{
			ID:          "SEC-004",
			Name:        "Logging Must Be Enabled",
			Description: "Security-relevant events must be logged with appropriate detail",
			Category:    "security",
			Severity:    schema.SeverityMedium,
			Criteria:    "Verify presence of logging for authentication, authorization, and critical operations",
		},
		{
			ID:          "SEC-005",
			Name:        "HTTPS/TLS Required",
			Description: "All network communications must use HTTPS/TLS encryption",
			Category:    "security",
			Severity:    schema.SeverityHigh,
			Criteria:    "Check for HTTP URLs or unencrypted network connections",
			Examples:    []string{"http://api.example.com", "socket without TLS"},
		},
		{
			ID:          "DOC-001",
			Name:        "README Must Exist",
			Description: "Project must include a README with setup instructions and overview",
			Category:    "documentation",
			Severity:    schema.SeverityMedium,
			Criteria:    "Check for presence of README.md or README.txt",
		},
		{
			ID:          "DOC-002",
			Name:        "Security Policy Required",
			Description: "Project must document security policies and incident response procedures",
			Category:    "documentation",
			Severity:    schema.SeverityMedium,
			Criteria:    "Look for security policy documentation or SECURITY.md file",
		},
		{
			ID:          "DOC-003",
			Name:        "Dependencies Must Be Documented",
			Description: "All dependencies and their versions must be documented",
			Category:    "documentation",
			Severity:    schema.SeverityLow,
			Criteria:    "Check for requirements.txt, package.json, or similar dependency manifests",
		},
		{
			ID:          "PRIV-001",
			Name:        "PII Handling Documented",
			Description: "Handling of personally identifiable information must be documented",
			Category:    "data-privacy",
			Severity:    schema.SeverityHigh,
			Criteria:    "Verify documentation of data collection, storage, and retention policies",
		},
		{
			ID:          "PRIV-002",
			Name:        "Data Retention Policy",
			Description: "Clear data retention and deletion policies must be defined",
			Category:    "data-privacy",
			Severity:    schema.SeverityMedium,
			Criteria:    "Check for documented data lifecycle and retention schedules",
		},
	}
}

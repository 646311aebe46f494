// Package config holds all runtime settings for the audit system. A Config
// is constructed once at startup and passed into each component; nothing in
// this module reads settings from ambient global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for an audit run.
type Config struct {
	// LLM settings.
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Compliance thresholds.
	PassThreshold         float64 `yaml:"pass_threshold"`
	HighSeverityThreshold int     `yaml:"high_severity_threshold"`

	// Reflection loop settings.
	EnableReflection        bool    `yaml:"enable_reflection"`
	MaxReflectionIterations int     `yaml:"max_reflection_iterations"`
	ConfidenceThreshold     float64 `yaml:"confidence_threshold"`

	// Risk scoring weights and tier cutoffs.
	HighWeight              float64 `yaml:"high_weight"`
	MediumWeight            float64 `yaml:"medium_weight"`
	LowWeight               float64 `yaml:"low_weight"`
	CriticalComplianceFloor float64 `yaml:"critical_compliance_floor"`
	HighComplianceFloor     float64 `yaml:"high_compliance_floor"`
	ModerateComplianceFloor float64 `yaml:"moderate_compliance_floor"`
	MediumCountThreshold    int     `yaml:"medium_count_threshold"`

	// File locations.
	RulesDir  string   `yaml:"rules_dir"`
	DocsDirs  []string `yaml:"docs_dirs"`
	OutputDir string   `yaml:"output_dir"`

	// Upload handling (HTTP API).
	UploadDir         string   `yaml:"upload_dir"`
	MaxUploadSize     int64    `yaml:"max_upload_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	ListenAddr        string   `yaml:"listen_addr"`
}

// Default returns a Config populated with the stock defaults.
func Default() Config {
	return Config{
		Provider:    "anthropic",
		Model:       "claude-sonnet-4-20250514",
		Temperature: 0.1,
		MaxTokens:   4000,

		PassThreshold:         85.0,
		HighSeverityThreshold: 3,

		EnableReflection:        true,
		MaxReflectionIterations: 2,
		ConfidenceThreshold:     0.8,

		HighWeight:              3.0,
		MediumWeight:            2.0,
		LowWeight:               1.0,
		CriticalComplianceFloor: 50.0,
		HighComplianceFloor:     70.0,
		ModerateComplianceFloor: 85.0,
		MediumCountThreshold:    3,

		RulesDir:  "data/rules",
		DocsDirs:  []string{"data/docs", "data/repo"},
		OutputDir: "output",

		UploadDir:     "uploads",
		MaxUploadSize: 50 * 1024 * 1024,
		AllowedExtensions: []string{
			".txt", ".md", ".py", ".json", ".yaml", ".yml",
			".xml", ".js", ".java", ".go",
		},
		ListenAddr: ":8080",
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// overrides, in that order. An empty path skips the file step; a missing
// file at a non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays AUDITFLOW_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("AUDITFLOW_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("AUDITFLOW_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("AUDITFLOW_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if v := os.Getenv("AUDITFLOW_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTokens = n
		}
	}
	if v := os.Getenv("AUDITFLOW_PASS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PassThreshold = f
		}
	}
	if v := os.Getenv("AUDITFLOW_ENABLE_REFLECTION"); v != "" {
		c.EnableReflection = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AUDITFLOW_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxReflectionIterations = n
		}
	}
	if v := os.Getenv("AUDITFLOW_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("AUDITFLOW_RULES_DIR"); v != "" {
		c.RulesDir = v
	}
	if v := os.Getenv("AUDITFLOW_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("AUDITFLOW_UPLOAD_DIR"); v != "" {
		c.UploadDir = v
	}
	if v := os.Getenv("AUDITFLOW_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// apiKeyEnv maps a provider name to the environment variable holding its
// credential.
func apiKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic", "":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	}
	return ""
}

// Validate checks the settings that must be correct before any audit run
// begins. This is the only fatal configuration path; everything downstream
// degrades instead of aborting.
func (c Config) Validate() error {
	env := apiKeyEnv(c.Provider)
	if env == "" {
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if os.Getenv(env) == "" {
		return fmt.Errorf("config: %s not set for provider %q", env, c.Provider)
	}
	if c.MaxReflectionIterations < 0 {
		return fmt.Errorf("config: max_reflection_iterations must be >= 0, got %d", c.MaxReflectionIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("config: max_upload_size must be positive, got %d", c.MaxUploadSize)
	}
	return nil
}

// ExtensionAllowed reports whether ext (including the leading dot) is in the
// allowed upload set. The comparison is case-insensitive.
func (c Config) ExtensionAllowed(ext string) bool {
	for _, a := range c.AllowedExtensions {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

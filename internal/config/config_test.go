package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every override this package reads so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUDITFLOW_PROVIDER", "AUDITFLOW_MODEL", "AUDITFLOW_TEMPERATURE",
		"AUDITFLOW_MAX_TOKENS", "AUDITFLOW_PASS_THRESHOLD",
		"AUDITFLOW_ENABLE_REFLECTION", "AUDITFLOW_MAX_ITERATIONS",
		"AUDITFLOW_CONFIDENCE_THRESHOLD", "AUDITFLOW_RULES_DIR",
		"AUDITFLOW_OUTPUT_DIR", "AUDITFLOW_UPLOAD_DIR", "AUDITFLOW_LISTEN_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.Provider)
	}
	if cfg.Temperature != 0.1 || cfg.MaxTokens != 4000 {
		t.Errorf("LLM defaults = %v/%d, want 0.1/4000", cfg.Temperature, cfg.MaxTokens)
	}
	if cfg.PassThreshold != 85.0 || cfg.HighSeverityThreshold != 3 {
		t.Errorf("thresholds = %v/%d, want 85.0/3", cfg.PassThreshold, cfg.HighSeverityThreshold)
	}
	if !cfg.EnableReflection || cfg.MaxReflectionIterations != 2 || cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("reflection defaults wrong: %+v", cfg)
	}
	if cfg.MaxUploadSize != 50*1024*1024 {
		t.Errorf("MaxUploadSize = %d, want 50MB", cfg.MaxUploadSize)
	}
	if len(cfg.AllowedExtensions) != 10 {
		t.Errorf("got %d allowed extensions, want 10", len(cfg.AllowedExtensions))
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	content := strings.Join([]string{
		"provider: openai",
		"model: gpt-4o",
		"pass_threshold: 90",
		"enable_reflection: false",
		"rules_dir: /etc/rules",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" {
		t.Errorf("provider/model = %q/%q", cfg.Provider, cfg.Model)
	}
	if cfg.PassThreshold != 90 {
		t.Errorf("PassThreshold = %v, want 90", cfg.PassThreshold)
	}
	if cfg.EnableReflection {
		t.Error("EnableReflection = true, want false")
	}
	// Unset keys keep their defaults.
	if cfg.MaxTokens != 4000 {
		t.Errorf("MaxTokens = %d, want default 4000", cfg.MaxTokens)
	}
	if cfg.RulesDir != "/etc/rules" {
		t.Errorf("RulesDir = %q", cfg.RulesDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("explicit missing config file should be an error")
	}
}

func TestLoadEmptyPathSkipsFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("Provider = %q, want default", cfg.Provider)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	if err := os.WriteFile(path, []byte("provider: openai\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUDITFLOW_PROVIDER", "google")
	t.Setenv("AUDITFLOW_MAX_ITERATIONS", "5")
	t.Setenv("AUDITFLOW_CONFIDENCE_THRESHOLD", "0.6")
	t.Setenv("AUDITFLOW_ENABLE_REFLECTION", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "google" {
		t.Errorf("Provider = %q, env should beat file", cfg.Provider)
	}
	if cfg.MaxReflectionIterations != 5 {
		t.Errorf("MaxReflectionIterations = %d, want 5", cfg.MaxReflectionIterations)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want 0.6", cfg.ConfidenceThreshold)
	}
	if cfg.EnableReflection {
		t.Error("EnableReflection = true, want false from env")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	if err := cfg.Validate(); err == nil {
		t.Error("missing API key should fail validation")
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	bad := Default()
	bad.ConfidenceThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range confidence threshold should fail validation")
	}

	bad = Default()
	bad.MaxReflectionIterations = -1
	if err := bad.Validate(); err == nil {
		t.Error("negative iteration cap should fail validation")
	}

	bad = Default()
	bad.Provider = "cohere"
	if err := bad.Validate(); err == nil {
		t.Error("unknown provider should fail validation")
	}
}

func TestExtensionAllowed(t *testing.T) {
	cfg := Default()
	tests := []struct {
		ext  string
		want bool
	}{
		{".py", true},
		{".PY", true},
		{".md", true},
		{".exe", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cfg.ExtensionAllowed(tt.ext); got != tt.want {
			t.Errorf("ExtensionAllowed(%q) = %v, want %v", tt.ext, got, tt.want)
		}
	}
}

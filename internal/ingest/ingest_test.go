package ingest

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"auditflow/internal/schema"
)

func testIngestor() *Ingestor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	readme := filepath.Join(dir, "README.md")
	code := filepath.Join(dir, "main.py")
	writeFile(t, readme, "# Project\n\n\n\nSetup instructions.   \n")
	writeFile(t, code, "print('hello')\n")

	docs, warnings := testIngestor().Ingest([]string{readme, code})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	if docs[0].DocType != schema.DocReadme {
		t.Errorf("README doc type = %q, want readme", docs[0].DocType)
	}
	if docs[0].Metadata.FileName != "README.md" || docs[0].Metadata.Extension != ".md" {
		t.Errorf("metadata = %+v", docs[0].Metadata)
	}
	if docs[1].DocType != schema.DocCode {
		t.Errorf("python doc type = %q, want code", docs[1].DocType)
	}
}

func TestIngestDropsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "notes.txt")
	writeFile(t, good, "hello")

	docs, warnings := testIngestor().Ingest([]string{filepath.Join(dir, "missing.txt"), good})
	if len(docs) != 1 || docs[0].Metadata.FileName != "notes.txt" {
		t.Errorf("good file affected by bad sibling: %+v", docs)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "missing.txt") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestIngestRejectsOversizeFile(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	writeFile(t, big, strings.Repeat("a", maxFileSize+1))

	docs, warnings := testIngestor().Ingest([]string{big})
	if len(docs) != 0 {
		t.Error("oversize file was ingested")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "exceeds") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestScanDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.py"), "x")
	writeFile(t, filepath.Join(dir, "b.md"), "x")
	writeFile(t, filepath.Join(dir, "c.exe"), "x")
	writeFile(t, filepath.Join(dir, "sub", "d.go"), "x")
	writeFile(t, filepath.Join(dir, ".git", "e.py"), "x")

	paths := testIngestor().ScanDirs([]string{dir, filepath.Join(dir, "gone")})

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	want := []string{"a.py", "b.md", "d.go"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("scanned %v, want %v", names, want)
	}
}

func TestClassifyDocType(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		want    schema.DocType
	}{
		{"readme by path", "docs/README.md", "", schema.DocReadme},
		{"policy by path", "security_policy.txt", "", schema.DocPolicy},
		{"config by name", "app_config.txt", "", schema.DocConfig},
		{"config by extension", "settings.yaml", "", schema.DocConfig},
		{"code", "handlers.go", "", schema.DocCode},
		{"requirements", "requirements.txt", "", schema.DocRequirements},
		{"logs", "server.log", "", schema.DocLogs},
		{"resume by content", "jane.txt", "Resume\nExperience: ...", schema.DocResume},
		{"policy by content", "notes.txt", "Our compliance stance is strict.", schema.DocPolicy},
		{"requirements by content", "plan.txt", "The specification covers...", schema.DocRequirements},
		{"fallback", "misc.txt", "nothing special here", schema.DocDocumentation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDocType(tt.path, tt.content); got != tt.want {
				t.Errorf("ClassifyDocType(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestClassifyPathBeatsContent(t *testing.T) {
	// Path signal wins even when the content matches another category.
	got := ClassifyDocType("README.md", "this document describes our compliance policy")
	if got != schema.DocReadme {
		t.Errorf("got %q, want readme", got)
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trailing spaces", "line one   \nline two\t\n", "line one\nline two\n"},
		{"collapse blanks", "a\n\n\n\nb", "a\n\nb"},
		{"carriage returns", "a\r\nb\r\n", "a\nb\n"},
		{"already clean", "a\nb", "a\nb"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeContent(tt.input); got != tt.want {
				t.Errorf("NormalizeContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

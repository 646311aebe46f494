// Package ingest turns raw file paths into normalized document blocks ready
// for compliance evaluation.
package ingest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"auditflow/internal/schema"
)

// maxFileSize is the largest file the ingestor will read.
const maxFileSize = 1 << 20 // 1 MB

// supportedExtensions are the file types the directory-scan fallback picks up.
var supportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".json": true,
	".yaml": true, ".yml": true, ".xml": true,
	".js": true, ".java": true, ".go": true,
}

// Ingestor reads, classifies, and normalizes input documents.
type Ingestor struct {
	logger *slog.Logger
}

// New constructs an Ingestor.
func New(logger *slog.Logger) *Ingestor {
	return &Ingestor{logger: logger}
}

// Ingest processes each path into a DocumentBlock. A single file's failure
// drops that file with a warning and does not affect the rest.
func (g *Ingestor) Ingest(paths []string) ([]schema.DocumentBlock, []string) {
	var docs []schema.DocumentBlock
	var warnings []string

	for _, path := range paths {
		block, err := g.processFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ingest: could not process %s: %v", path, err))
			g.logger.Warn("file dropped", "path", path, "error", err)
			continue
		}
		docs = append(docs, block)
	}
	return docs, warnings
}

// ScanDirs recursively collects supported files under each directory.
// Missing directories are skipped silently; this is the fallback input
// source when no explicit paths were supplied.
func (g *Ingestor) ScanDirs(dirs []string) []string {
	var paths []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if supportedExtensions[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
	}
	return paths
}

// processFile reads one file and builds its document block.
func (g *Ingestor) processFile(path string) (schema.DocumentBlock, error) {
	info, err := os.Stat(path)
	if err != nil {
		return schema.DocumentBlock{}, err
	}
	if info.Size() > maxFileSize {
		return schema.DocumentBlock{}, fmt.Errorf("file exceeds %d bytes", maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return schema.DocumentBlock{}, err
	}
	content := string(data)

	return schema.DocumentBlock{
		Source:  path,
		Content: NormalizeContent(content),
		DocType: ClassifyDocType(path, content),
		Metadata: schema.DocumentMeta{
			FileName:  filepath.Base(path),
			Extension: filepath.Ext(path),
			SizeBytes: len(content),
			LineCount: strings.Count(content, "\n") + 1,
		},
	}, nil
}

// ClassifyDocType infers the document type from the file path first and the
// content second. All matching is case-insensitive substring matching.
func ClassifyDocType(path, content string) schema.DocType {
	lower := strings.ToLower(path)
	ext := filepath.Ext(lower)

	switch {
	case strings.Contains(lower, "readme"):
		return schema.DocReadme
	case strings.Contains(lower, "policy") || strings.Contains(lower, "compliance"):
		return schema.DocPolicy
	case strings.Contains(lower, "config") || ext == ".json" || ext == ".yaml" || ext == ".yml" || ext == ".xml":
		return schema.DocConfig
	case ext == ".py" || ext == ".go" || ext == ".js" || ext == ".java":
		return schema.DocCode
	case strings.Contains(lower, "requirement") || strings.Contains(lower, "spec"):
		return schema.DocRequirements
	case strings.Contains(lower, "log"):
		return schema.DocLogs
	}

	// Path gave no signal; fall back to content tokens.
	cl := strings.ToLower(content)
	switch {
	case strings.Contains(cl, "resume") || strings.Contains(cl, "curriculum vitae"):
		return schema.DocResume
	case strings.Contains(cl, "policy") || strings.Contains(cl, "compliance"):
		return schema.DocPolicy
	case strings.Contains(cl, "requirement") || strings.Contains(cl, "specification"):
		return schema.DocRequirements
	}
	return schema.DocDocumentation
}

// NormalizeContent trims trailing whitespace from each line and collapses
// runs of blank lines down to a single blank line.
func NormalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if !prevEmpty {
				out = append(out, "")
			}
			prevEmpty = true
			continue
		}
		out = append(out, line)
		prevEmpty = false
	}
	return strings.Join(out, "\n")
}

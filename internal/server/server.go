// Package server exposes the audit pipeline over HTTP. It is a thin
// transport layer: upload validation and response mapping only, with all
// audit logic behind the AuditRunner interface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"auditflow/internal/config"
	"auditflow/internal/pipeline"
	"auditflow/internal/rules"
	"auditflow/internal/schema"
)

// Version is reported by the index endpoint.
const Version = "1.0.0"

// AuditRunner executes a full audit over an initial state.
type AuditRunner interface {
	Run(ctx context.Context, state *pipeline.AuditState) *pipeline.AuditState
}

// Server wires the audit endpoints to the pipeline.
type Server struct {
	cfg    config.Config
	runner AuditRunner
	logger *slog.Logger
}

// New constructs a Server with its dependencies.
func New(cfg config.Config, runner AuditRunner, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, runner: runner, logger: logger}
}

// Router mounts all endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/config", s.handleConfig)
	r.Get("/rules", s.handleRules)
	r.Post("/audit", s.handleAudit)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Compliance Audit API",
		"version": Version,
		"endpoints": map[string]string{
			"health": "GET /health",
			"config": "GET /config",
			"rules":  "GET /rules",
			"audit":  "POST /audit",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleConfig reports non-sensitive settings only.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"model":                     s.cfg.Model,
		"temperature":               s.cfg.Temperature,
		"compliance_threshold":      s.cfg.PassThreshold,
		"reflection_enabled":        s.cfg.EnableReflection,
		"max_reflection_iterations": s.cfg.MaxReflectionIterations,
		"allowed_file_extensions":   s.cfg.AllowedExtensions,
		"max_upload_size_mb":        float64(s.cfg.MaxUploadSize) / (1024 * 1024),
	})
}

// ruleInfo is the catalog listing entry returned by GET /rules.
type ruleInfo struct {
	RuleID      string          `json:"rule_id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Severity    schema.Severity `json:"severity"`
	Description string          `json:"description"`
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	catalog, _ := rules.Load(s.cfg.RulesDir)
	infos := make([]ruleInfo, 0, len(catalog))
	for _, r := range catalog {
		infos = append(infos, ruleInfo{
			RuleID:      r.ID,
			Name:        r.Name,
			Category:    r.Category,
			Severity:    r.Severity,
			Description: r.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_rules": len(infos),
		"rules":       infos,
	})
}

// auditResponse is the JSON contract the web frontend expects. Severities
// serialize as lowercase strings and confidence as a 0-1 float through the
// schema types' own tags.
type auditResponse struct {
	Success     bool              `json:"success"`
	AuditPassed bool              `json:"audit_passed"`
	Errors      []string          `json:"errors"`
	Warnings    []string          `json:"warnings"`
	Report      *reportPayload    `json:"report,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type reportPayload struct {
	Timestamp        string             `json:"timestamp"`
	ComplianceScore  float64            `json:"compliance_score"`
	RiskAssessment   schema.RiskScore   `json:"risk_assessment"`
	Violations       []schema.Violation `json:"violations"`
	MissingArtifacts []string           `json:"missing_artifacts"`
	Recommendations  []string           `json:"recommendations"`
	Summary          string             `json:"summary"`
}

// handleAudit accepts a multipart upload, validates it, runs the pipeline,
// and maps the final state to the API response. Upload validation failures
// are immediate rejections; anything after the files are saved degrades into
// the report's errors list instead.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}

	for _, fh := range files {
		ext := filepath.Ext(fh.Filename)
		if !s.cfg.ExtensionAllowed(ext) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("File type %s not allowed. Allowed: %v", ext, s.cfg.AllowedExtensions))
			return
		}
		if fh.Size > s.cfg.MaxUploadSize {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("File %s exceeds maximum size of %d bytes", fh.Filename, s.cfg.MaxUploadSize))
			return
		}
	}

	sessionID := uuid.NewString()
	sessionDir := filepath.Join(s.cfg.UploadDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("could not create session directory: %v", err))
		return
	}
	// The session directory is removed on every exit path.
	defer func() {
		if err := os.RemoveAll(sessionDir); err != nil {
			s.logger.Warn("failed to clean up session directory", "session_id", sessionID, "error", err)
		}
	}()

	paths, err := saveUploads(sessionDir, files)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("could not save uploads: %v", err))
		return
	}

	state := s.runner.Run(ctx, pipeline.NewAuditState(paths))

	s.logger.Info("audit completed",
		"session_id", sessionID,
		"files", len(paths),
		"audit_passed", state.AuditPassed,
		"errors", len(state.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, mapResponse(state, sessionID))
}

// mapResponse converts a final pipeline state into the API response shape.
func mapResponse(state *pipeline.AuditState, sessionID string) auditResponse {
	resp := auditResponse{
		Success:     len(state.Errors) == 0,
		AuditPassed: state.AuditPassed,
		Errors:      emptyIfNil(state.Errors),
		Warnings:    emptyIfNil(state.Warnings),
		Metadata:    map[string]string{"sessionId": sessionID},
	}
	if rep := state.FinalReport; rep != nil {
		resp.Report = &reportPayload{
			Timestamp:        rep.Timestamp,
			ComplianceScore:  rep.ComplianceScore,
			RiskAssessment:   rep.RiskAssessment,
			Violations:       emptyIfNil(rep.Violations),
			MissingArtifacts: emptyIfNil(rep.MissingArtifacts),
			Recommendations:  emptyIfNil(rep.Recommendations),
			Summary:          rep.Summary,
		}
	}
	return resp
}

// saveUploads writes each uploaded file into dir and returns the saved
// paths. File names are flattened to their base name.
func saveUploads(dir string, files []*multipart.FileHeader) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		path := filepath.Join(dir, filepath.Base(fh.Filename))
		dst, err := os.Create(path)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// emptyIfNil keeps JSON arrays as [] instead of null for the frontend.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// Package api exposes job submission, status, download and audit queries
// over HTTP. Handlers stay thin: validation and wiring here, everything
// stateful in the registry, audit log and supervisor.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gitmine/gitmine/internal/audit"
	"github.com/gitmine/gitmine/internal/log"
	"github.com/gitmine/gitmine/internal/model"
	"github.com/gitmine/gitmine/internal/registry"
	"github.com/gitmine/gitmine/internal/service"
	"github.com/gitmine/gitmine/internal/tooling"
)

// auditTail is how many audit entries a query returns.
const auditTail = 100

// scriptAuditName is the per-job audit sub-log the worker writes on its own,
// mirroring its run inside the job's output directory.
const scriptAuditName = "script-audit.jsonl"

type Server struct {
	registry   *registry.Registry
	audit      *audit.Log
	catalog    *tooling.Catalog
	supervisor *service.Supervisor
	outputRoot string
}

func NewServer(reg *registry.Registry, auditLog *audit.Log, catalog *tooling.Catalog, sup *service.Supervisor, outputRoot string) *Server {
	return &Server{
		registry:   reg,
		audit:      auditLog,
		catalog:    catalog,
		supervisor: sup,
		outputRoot: outputRoot,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	r.HandleFunc("/api/extract", s.handleExtract).Methods(http.MethodPost)
	r.HandleFunc("/api/status/{jobID}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/download/{jobID}/{filename:.*}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/audit", s.handleAudit).Methods(http.MethodGet)
	r.Use(requestLogging)
	return r
}

type extractRequest struct {
	Type  string         `json:"type"`
	Token string         `json:"token"`
	Args  map[string]any `json:"args"`
}

type extractResponse struct {
	JobID string `json:"job_id"`
}

// handleExtract validates the submission, creates the job and hands it to
// the supervisor on its own goroutine. It replies with the job id
// immediately and never blocks on job completion.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.catalog.Known(req.Type) {
		writeError(w, http.StatusBadRequest, "invalid 'type'")
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	jobID := newJobID()
	outDir := filepath.Join(s.outputRoot, jobID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		slog.ErrorContext(r.Context(), "creating job output directory", "job_id", jobID, "error", err)
		writeError(w, http.StatusBadRequest, "cannot create job output directory")
		return
	}

	inv, err := s.catalog.Build(req.Type, req.Args, outDir, filepath.Join(outDir, scriptAuditName), token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := model.NewJob(jobID, req.Type, req.Args, model.MaskToken(token), outDir)

	entry := model.AuditEntry{
		TS:          float64(time.Now().UnixMilli()) / 1000,
		JobID:       jobID,
		Tool:        job.Tool,
		Params:      job.Params,
		MaskedToken: job.MaskedToken,
		Status:      "started",
		CmdPreview:  inv.Preview(token),
	}
	if err := s.audit.Append(entry); err != nil {
		// best effort, the job still runs
		slog.WarnContext(r.Context(), "writing start-of-job audit entry", "job_id", jobID, "error", err)
	}

	if err := s.registry.Create(job); err != nil {
		slog.ErrorContext(r.Context(), "registering job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// detached from the request context: the job outlives this request
	ctx := log.ContextAttrs(context.Background(),
		slog.String("job_id", jobID),
		slog.String("tool", job.Tool),
	)
	go s.supervisor.Run(ctx, jobID, inv)

	slog.InfoContext(r.Context(), "job submitted", "job_id", jobID, "tool", job.Tool)
	writeJSON(w, http.StatusOK, extractResponse{JobID: jobID})
}

type statusResponse struct {
	JobID    string   `json:"job_id"`
	Tool     string   `json:"tool"`
	Status   string   `json:"status"`
	Progress int      `json:"progress"`
	Message  string   `json:"message"`
	Log      []string `json:"log"`
	Outputs  []string `json:"outputs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := s.registry.Snapshot(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job_id")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:    job.ID,
		Tool:     job.Tool,
		Status:   string(job.Status),
		Progress: job.Progress,
		Message:  job.Message,
		Log:      emptyIfNil(job.Log),
		Outputs:  emptyIfNil(job.OutputFiles),
	})
}

// handleDownload serves one produced file from the job's private output
// directory. Resolution happens inside an os.Root, so any name escaping the
// directory is rejected by the OS rather than by string inspection.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID, filename := vars["jobID"], vars["filename"]

	job, err := s.registry.Snapshot(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job_id")
		return
	}

	root, err := os.OpenRoot(job.OutputDir)
	if err != nil {
		slog.ErrorContext(r.Context(), "opening job output directory", "job_id", jobID, "error", err)
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer func() {
		_ = root.Close()
	}()

	f, err := root.Open(filename)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found")
		return
	default:
		// escape attempts surface as path errors distinct from not-exist
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(filename)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	if _, err := io.Copy(w, f); err != nil {
		slog.WarnContext(r.Context(), "streaming download", "job_id", jobID, "file", filename, "error", err)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.audit.Tail(auditTail)
	if err != nil {
		// partial result is still a result
		slog.WarnContext(r.Context(), "reading audit log", "error", err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// newJobID returns a short random identifier, same shape as a trimmed uuid.
func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.DebugContext(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"elapsed", time.Since(start),
		)
	})
}

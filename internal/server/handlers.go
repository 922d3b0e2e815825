package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/bom-generator/internal/archive"
	"github.com/jonathan/bom-generator/internal/db"
	"github.com/jonathan/bom-generator/internal/parsing"
	"github.com/jonathan/bom-generator/internal/pipeline"
	"github.com/jonathan/bom-generator/internal/server/middleware"
	"github.com/jonathan/bom-generator/internal/storage"
	"github.com/jonathan/bom-generator/internal/types"
)

// maxRequestBody bounds the JSON body of a run request.
const maxRequestBody = 64 << 10

// RunResponse describes a finished run. The archive itself is returned as
// the body of POST /runs and base64-encoded in the SSE complete event.
type RunResponse struct {
	RunID           string                `json:"run_id"`
	Documents       []string              `json:"documents"`
	Parts           []types.Part          `json:"parts"`
	Dropped         []parsing.DroppedPart `json:"dropped,omitempty"`
	Usage           types.UsageSummary    `json:"usage"`
	ArchiveLocation string                `json:"archive_location,omitempty"`
	Archive         []byte                `json:"archive,omitempty"`
}

// DocumentInfo lists one stored document without its content
type DocumentInfo struct {
	Stage    string `json:"stage"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

// RunDetail is the response for GET /runs/{id}
type RunDetail struct {
	db.Run
	Documents []DocumentInfo `json:"documents"`
}

// handleIndustries returns the suggested industries and example products
func (s *Server) handleIndustries(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"industries": types.Industries})
}

// decodeRequest reads and validates a generation request body.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (types.GenerationRequest, bool) {
	var req types.GenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.failureResponse(w, &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()})
		return req, false
	}
	if err := req.Validate(); err != nil {
		s.failureResponse(w, err)
		return req, false
	}
	return req, true
}

// orchestrator builds a per-request orchestrator around the shared client.
func (s *Server) orchestrator(logger *zap.Logger, progress pipeline.ProgressCallback) *pipeline.Orchestrator {
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithConcurrency(s.cfg.Concurrency),
		pipeline.WithCallTimeout(s.cfg.CallTimeout),
		pipeline.WithProgress(progress),
	}
	if s.store != nil {
		opts = append(opts, pipeline.WithRecorder(s.store))
	}
	return pipeline.New(s.client, opts...)
}

// upload stores the archive when an uploader is configured. Upload failures
// are logged and do not fail the run.
func (s *Server) upload(ctx context.Context, logger *zap.Logger, result *pipeline.Result) string {
	if s.uploader == nil {
		return ""
	}
	location, err := s.uploader.Upload(ctx, storage.ArchiveKey(result.RunID.String()), result.Archive)
	if err != nil {
		logger.Warn("failed to upload archive", zap.String("run_id", result.RunID.String()), zap.Error(err))
		return ""
	}
	return location
}

func newRunResponse(result *pipeline.Result, location string) RunResponse {
	names := make([]string, len(result.Documents))
	for i, doc := range result.Documents {
		names[i] = doc.Filename
	}
	return RunResponse{
		RunID:           result.RunID.String(),
		Documents:       names,
		Parts:           result.Parts,
		Dropped:         result.Dropped,
		Usage:           result.Usage,
		ArchiveLocation: location,
	}
}

// handleRun generates all documents and returns the archive
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	logger := s.logger.With(zap.String("request_id", middleware.GetRequestID(r.Context())))
	result, err := s.orchestrator(logger, nil).Run(r.Context(), req)
	if err != nil {
		s.failureResponse(w, err)
		return
	}

	location := s.upload(r.Context(), logger, result)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.DefaultFilename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Archive)))
	w.Header().Set("X-Run-ID", result.RunID.String())
	w.Header().Set("X-Input-Tokens", strconv.Itoa(result.Usage.InputTokens))
	w.Header().Set("X-Output-Tokens", strconv.Itoa(result.Usage.OutputTokens))
	if location != "" {
		w.Header().Set("X-Archive-Location", location)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Archive); err != nil {
		logger.Warn("failed to write archive", zap.Error(err))
	}
}

// handleRunStream generates all documents and streams progress via SSE
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger := s.logger.With(zap.String("request_id", middleware.GetRequestID(r.Context())))
	progress := func(event pipeline.ProgressEvent) {
		if err := sse.WriteEvent("progress", event); err != nil {
			logger.Debug("failed to write progress event", zap.Error(err))
		}
	}

	result, err := s.orchestrator(logger, progress).Run(r.Context(), req)
	if err != nil {
		sse.WriteError(NewErrorBody(err))
		return
	}

	resp := newRunResponse(result, s.upload(r.Context(), logger, result))
	resp.Archive = result.Archive
	sse.WriteComplete(resp)
}

// handleListRuns lists recorded runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.failureResponse(w, ErrStorageDisabled)
		return
	}

	filters := db.RunFilters{Status: r.URL.Query().Get("status")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.failureResponse(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filters.Limit = limit
	}

	runs, err := s.store.ListRuns(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// lookupRun resolves the {id} path value to a stored run, writing the error
// response itself when it cannot.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	if s.store == nil {
		s.failureResponse(w, ErrStorageDisabled)
		return nil, false
	}

	idStr := r.PathValue("id")
	runID, err := uuid.Parse(idStr)
	if err != nil {
		s.failureResponse(w, &ErrValidation{Field: "id", Message: "invalid run ID format"})
		return nil, false
	}

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return nil, false
	}
	if run == nil {
		s.failureResponse(w, &ErrNotFound{Resource: "run", ID: idStr})
		return nil, false
	}
	return run, true
}

// handleGetRun returns a run and the documents it produced
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	detail := RunDetail{Run: *run, Documents: make([]DocumentInfo, len(docs))}
	for i, d := range docs {
		detail.Documents[i] = DocumentInfo{Stage: d.Stage, Filename: d.Filename, Size: len(d.Content)}
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

// handleRunArchive rebuilds the archive of a completed run from its stored documents
func (s *Server) handleRunArchive(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Status != db.StatusCompleted {
		s.errorResponse(w, http.StatusConflict, fmt.Sprintf("run is %s; only completed runs have an archive", run.Status))
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	// Each backend call of a completed run produced exactly one document.
	if len(docs) == 0 || len(docs) != run.Calls {
		s.errorResponse(w, http.StatusConflict,
			fmt.Sprintf("run has %d of %d documents stored; archive cannot be rebuilt", len(docs), run.Calls))
		return
	}

	var buf bytes.Buffer
	if err := archive.Write(&buf, db.NamedDocuments(docs)); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.DefaultFilename))
	w.Header().Set("X-Run-ID", run.ID.String())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/app"
	"github.com/hyperjump/tiku/internal/config"
	"github.com/hyperjump/tiku/internal/generate"
	"github.com/hyperjump/tiku/internal/indexer"
	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/ocr"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/internal/tasks"
)

// errorStatus maps domain errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyInput),
		errors.Is(err, models.ErrUnknownSourceType),
		errors.Is(err, models.ErrInvalidRelationType):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, tasks.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrIngestInProgress):
		return http.StatusConflict
	case errors.Is(err, llm.ErrMissingAPIKey), errors.Is(err, ocr.ErrMissingToken):
		return http.StatusServiceUnavailable
	case llm.StatusCode(err) != 0:
		return http.StatusBadGateway
	}
	var se *ocr.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := errorStatus(err)
	if status >= 500 {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	if query.TopN == 0 {
		query.TopN = s.comps.Config.Search.DefaultTopN
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_n", query.TopN))
	response, err := s.comps.Retriever.Search(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type generateRequest struct {
	generate.Request
	// Direct reads concepts from the KG-only store.
	Direct bool `json:"direct,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = generate.Mode(s.comps.Config.Generate.Mode)
	}
	orch := s.comps.Generator
	if req.Direct {
		orch = s.comps.Direct
		req.Mode = generate.ModeKG
	}
	res, err := orch.Generate(r.Context(), &req.Request)
	if err != nil {
		s.fail(w, "generation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.comps.Indexer.Documents(r.Context())
	if err != nil {
		s.fail(w, "list documents failed", err)
		return
	}
	if docs == nil {
		docs = []storage.DocumentInfo{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type ingestRequest struct {
	DocID      string            `json:"doc_id"`
	SourceType models.SourceType `json:"source_type"`
	Markdown   string            `json:"markdown"`
}

// handleIngest indexes Markdown sent in the body.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	st, err := models.ParseSourceType(string(req.SourceType))
	if err != nil {
		s.fail(w, "ingest rejected", err)
		return
	}
	s.logger.Debug("ingest request", zap.String("doc_id", req.DocID), zap.String("source_type", string(st)))
	chunks, err := s.comps.Indexer.Ingest(r.Context(), req.DocID, st, req.Markdown)
	if err != nil {
		s.fail(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, app.IngestResult{DocID: strings.TrimSpace(req.DocID), SourceType: st, Chunks: len(chunks)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	counts, err := s.comps.Indexer.Counts(ctx, id)
	if err != nil {
		s.fail(w, "count failed", err)
		return
	}
	if counts.Table == 0 && counts.Dense == 0 {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	chapters, err := s.comps.Store.Chapters(ctx, id)
	if err != nil {
		s.fail(w, "chapters failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"doc_id":     id,
		"counts":     counts,
		"consistent": counts.Consistent(),
		"chapters":   chapters,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("doc_id", id))
	if err := s.comps.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"doc_id": id, "status": "deleted"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.comps.Indexer.Rebuild(r.Context()); err != nil {
		s.fail(w, "rebuild failed", err)
		return
	}
	counts, err := s.comps.Indexer.Counts(r.Context(), "")
	if err != nil {
		s.fail(w, "count failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "rebuilt", "counts": counts})
}

type fileRequest struct {
	Path       string            `json:"path"`
	DocID      string            `json:"doc_id"`
	SourceType models.SourceType `json:"source_type"`
	Resume     *bool             `json:"resume,omitempty"`
}

// handleSubmitFile queues conversion and ingestion of a server-side file.
func (s *Server) handleSubmitFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if req.SourceType != "" {
		if _, err := models.ParseSourceType(string(req.SourceType)); err != nil {
			s.fail(w, "ocr rejected", err)
			return
		}
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		s.fail(w, "ocr rejected", err)
		return
	}
	if !info.Mode().IsRegular() {
		s.respondError(w, http.StatusBadRequest, "path is not a file")
		return
	}
	if !app.IsMarkdown(req.Path) {
		if _, err := s.comps.OCR(); err != nil {
			s.fail(w, "ocr rejected", err)
			return
		}
	}
	resume := req.Resume == nil || *req.Resume
	task := s.comps.SubmitIngest(req.Path, app.FileOptions{DocID: req.DocID, SourceType: req.SourceType, Resume: resume})
	s.respondJSON(w, http.StatusAccepted, task)
}

type kgRequest struct {
	DocID      string            `json:"doc_id"`
	SourceType models.SourceType `json:"source_type"`
	// Markdown is optional; the stored chunks are used without it.
	Markdown string `json:"markdown"`
	Direct   bool   `json:"direct"`
}

func (s *Server) handleSubmitKG(w http.ResponseWriter, r *http.Request) {
	var req kgRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DocID) == "" {
		s.respondError(w, http.StatusBadRequest, "doc_id is required")
		return
	}
	if req.Markdown != "" {
		if _, err := models.ParseSourceType(string(req.SourceType)); err != nil {
			s.fail(w, "kg rejected", err)
			return
		}
	}
	task, err := s.comps.SubmitKG(req.DocID, req.SourceType, req.Markdown, req.Direct)
	if err != nil {
		s.fail(w, "kg rejected", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ConceptFilter{DocIDs: q["doc_id"], ChapterNames: q["chapter"], Names: q["kp"]}
	store := s.comps.Store
	if direct, _ := strconv.ParseBool(q.Get("direct")); direct {
		store = s.comps.KGOnly
	}
	concepts, err := store.QueryConcepts(r.Context(), f)
	if err != nil {
		s.fail(w, "concept query failed", err)
		return
	}
	if concepts == nil {
		concepts = []*models.ConceptView{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"concepts": concepts})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.comps.Tasks.GCExpired()
	s.respondJSON(w, http.StatusOK, map[string]any{"tasks": s.comps.Tasks.List()})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.comps.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "task lookup failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.comps.Status(r.Context())
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.fail(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirs()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirs()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirs() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.comps.Config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.comps.Config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/ingest"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/search"
	"github.com/hyperjump/dermamatch/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := search.ProcessQuery(&query, s.config.Search); err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("search request", zap.Int("k", query.K), zap.Int("groups", len(query.RawFeatures)))
	response, err := s.engine.FindSimilar(r.Context(), &query)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.engine.GetCase(id)
	if errors.Is(err, models.ErrSearchUnavailable) && s.storage != nil {
		c, err = s.storage.GetCase(r.Context(), id)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type listCasesResponse struct {
	Cases  []*models.ReferenceCase `json:"cases"`
	Total  int64                   `json:"total"`
	Offset int                     `json:"offset"`
	Limit  int                     `json:"limit"`
}

// caseStoreEnabled reports whether the case database is the corpus, so that writing to it
// changes what a rebuild indexes.
func (s *Server) caseStoreEnabled(w http.ResponseWriter) bool {
	if s.importer == nil || s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "stored cases require the sqlite corpus source")
		return false
	}
	return true
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	if !s.caseStoreEnabled(w) {
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxListLimit)

	cases, err := s.storage.ListCases(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	total, err := s.storage.CountCases(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if cases == nil {
		cases = []*models.ReferenceCase{}
	}
	s.respondJSON(w, http.StatusOK, listCasesResponse{Cases: cases, Total: total, Offset: offset, Limit: limit})
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if !s.caseStoreEnabled(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.storage.DeleteCase(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Info("case deleted", zap.String("case_id", id))
	resp := struct {
		Deleted string                `json:"deleted"`
		Rebuild *models.RebuildReport `json:"rebuild,omitempty"`
	}{Deleted: id}
	if r.URL.Query().Get("rebuild") == "true" {
		rebuild, err := s.engine.Rebuild(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		resp.Rebuild = rebuild
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

type importRequest struct {
	Cases   []models.ReferenceCaseInput `json:"cases"`
	Rebuild bool                        `json:"rebuild,omitempty"`
}

type importResponse struct {
	Import  *ingest.Report        `json:"import"`
	Rebuild *models.RebuildReport `json:"rebuild,omitempty"`
}

func (s *Server) handleImportCases(w http.ResponseWriter, r *http.Request) {
	if !s.caseStoreEnabled(w) {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Cases) == 0 {
		s.respondError(w, http.StatusBadRequest, "cases are required")
		return
	}
	report, err := s.importer.Import(r.Context(), req.Cases)
	if err != nil {
		s.logger.Error("import failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := importResponse{Import: report}
	if req.Rebuild && report.Imported > 0 {
		rebuild, err := s.engine.Rebuild(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		resp.Rebuild = rebuild
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("rebuild request")
	report, err := s.engine.Rebuild(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Configuration())
}

func (s *Server) handleSetDemographicWeight(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DemographicWeight *float64 `json:"demographic_weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DemographicWeight == nil {
		s.respondError(w, http.StatusBadRequest, "demographic_weight is required")
		return
	}
	cfg, err := s.engine.SetDemographicWeight(*body.DemographicWeight)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetComponentWeights(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ethnicity *float64 `json:"ethnicity"`
		SkinType  *float64 `json:"skin_type"`
		AgeGroup  *float64 `json:"age_group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		body.Ethnicity == nil || body.SkinType == nil || body.AgeGroup == nil {
		s.respondError(w, http.StatusBadRequest, "ethnicity, skin_type and age_group are required")
		return
	}
	cfg, err := s.engine.SetComponentWeights(*body.Ethnicity, *body.SkinType, *body.AgeGroup)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"engine": s.engine.Status(),
	}
	if s.storage != nil {
		n, err := s.storage.CountCases(r.Context())
		if err != nil {
			s.logger.Error("status: count cases failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["stored_cases"] = n
	}

	configInfo := map[string]interface{}{
		"corpus_source":        s.config.Corpus.Source,
		"vector_index_type":    s.config.Vector.IndexType,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"database_path":        s.config.Storage.DatabasePath,
		"index_path":           s.config.Storage.IndexPath,
	}
	if s.watcher != nil {
		configInfo["watching"] = s.watcher.Path()
		configInfo["watch_reloads"] = s.watcher.Reloads()
	}
	resp["config"] = configInfo
	if fp, err := storage.MeasureFootprint(s.config.Storage.DatabasePath, s.config.Storage.IndexPath); err == nil {
		resp["disk_usage"] = fp
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, models.ErrInvalidWeightConfig),
		errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrCaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSearchUnavailable),
		errors.Is(err, models.ErrCorpusUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

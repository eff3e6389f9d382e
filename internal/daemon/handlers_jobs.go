package daemon

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"audibridge/internal/services"
	"audibridge/internal/store"
)

type jobListResponse struct {
	Status string             `json:"status"`
	Jobs   []*store.JobRecord `json:"jobs"`
}

type jobResponse struct {
	Status string           `json:"status"`
	Job    *store.JobRecord `json:"job"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "Error listing jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*store.JobRecord{}
	}
	s.writeJSON(w, http.StatusOK, jobListResponse{Status: "success", Jobs: jobs})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, "Error loading job", err)
		return
	}
	if job == nil {
		s.fail(w, r, "Error loading job", services.Wrap(services.ErrNotFound, "api", "job", "job "+id+" not found", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse{Status: "success", Job: job})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version, Database: "ok"}
	status := http.StatusOK
	if err := s.jobs.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/jobs"
	"github.com/soypete/alttext/pkg/storage"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	pingTimeout     = 2 * time.Second
)

// GenerateRequest is the body of POST /api/assets/{assetID}/alt-text. Every
// field may also be passed as a query parameter.
type GenerateRequest struct {
	SiteID int64 `json:"siteId"`
	Force  bool  `json:"force"`
	Inline bool  `json:"inline"`
}

// GenerateResponse reports what a generation request did.
type GenerateResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	AltText string                `json:"altText,omitempty"`
	Notice  alttext.Notice        `json:"notice,omitempty"`
	Queued  int                   `json:"queued"`
	Items   []alttext.ItemOutcome `json:"items,omitempty"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// handleGenerate plans generation for one asset
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(chi.URLParam(r, "assetID"), 10, 64)
	if err != nil || assetID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := applyQuery(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.opts.Generator.RequestGeneration(r.Context(), alttext.GenerateRequest{
		AssetID: assetID,
		SiteID:  req.SiteID,
		Force:   req.Force,
		Inline:  req.Inline,
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, alttext.ErrUnknownSite):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Int64("asset_id", assetID).Msg("http: generation request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, resp := generateResponse(out)
	respondJSON(w, status, resp)
}

func applyQuery(r *http.Request, req *GenerateRequest) error {
	q := r.URL.Query()
	if v := q.Get("site_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid site_id: %s", v)
		}
		req.SiteID = id
	}
	for name, dst := range map[string]*bool{"force": &req.Force, "inline": &req.Inline} {
		if v := q.Get(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %s", name, v)
			}
			*dst = b
		}
	}
	return nil
}

func generateResponse(out *alttext.Outcome) (int, GenerateResponse) {
	resp := GenerateResponse{Success: true, Notice: out.Notice, Items: out.Items}

	switch out.Notice {
	case alttext.NoticeNotAnImage:
		resp.Success = false
		resp.Message = "Asset is not an image"
		return http.StatusUnprocessableEntity, resp
	case alttext.NoticeDuplicateInProgress:
		resp.Message = "Alt text generation is already in progress"
		return http.StatusOK, resp
	}

	status := http.StatusOK
	for _, item := range out.Items {
		switch {
		case item.JobID != "":
			resp.Queued++
		case item.Err == nil && item.Mode == alttext.ModeInline:
			resp.AltText = item.AltText
		}
	}

	if len(out.Items) > 0 && out.Items[0].Err != nil {
		resp.Success = false
		resp.Message = out.Items[0].Error
		return statusForError(out.Items[0].Err), resp
	}

	switch {
	case resp.AltText != "" && resp.Queued > 0:
		resp.Message = fmt.Sprintf("Alt text generated, %d more queued", resp.Queued)
	case resp.AltText != "":
		resp.Message = "Alt text generated"
	default:
		resp.Message = "Alt text generation queued"
	}
	if failed := out.Failed(); failed > 0 {
		resp.Message += fmt.Sprintf(" (%d failed)", failed)
	}
	return status, resp
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, alttext.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, alttext.ErrPersistFailed):
		return http.StatusInternalServerError
	case errors.Is(err, alttext.ErrNotAnImage),
		errors.Is(err, alttext.ErrUnsupportedAnimated),
		errors.Is(err, alttext.ErrUnsupportedFormat),
		errors.Is(err, alttext.ErrUnreadableSource):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleListJobs lists jobs, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts := jobs.ListOptions{
		Status: jobs.Status(r.URL.Query().Get("status")),
		Limit:  defaultJobLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = min(n, maxJobLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}

	list, err := s.opts.Jobs.List(r.Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("http: failed to list jobs")
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list jobs: %v", err))
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetJob returns one job including its completion record
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.opts.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.opts.Jobs.Cancel(r.Context(), id); err != nil {
		s.respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Job %s cancelled", id),
	})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.opts.Jobs.Retry(r.Context(), id); err != nil {
		s.respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Job %s queued again", id),
	})
}

func (s *Server) respondJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("http: job request failed")
	respondError(w, http.StatusInternalServerError, err.Error())
}

// SiteCoverage is one row of the stats response.
type SiteCoverage struct {
	assets.SiteStats
	Missing  int     `json:"missing"`
	Coverage float64 `json:"coverage"`
}

// StatsResponse reports alt text coverage per site and overall.
type StatsResponse struct {
	Sites []SiteCoverage `json:"sites"`
	Total SiteCoverage   `json:"total"`
}

func coverage(st assets.SiteStats) SiteCoverage {
	return SiteCoverage{SiteStats: st, Missing: st.Missing(), Coverage: st.Coverage()}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var siteIDs []int64
	if v := r.URL.Query().Get("site_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid site_id")
			return
		}
		siteIDs = []int64{id}
	}

	stats, err := s.opts.Stats.Stats(r.Context(), siteIDs)
	if err != nil {
		s.logger.Error().Err(err).Msg("http: failed to load stats")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatsResponse{Sites: make([]SiteCoverage, 0, len(stats))}
	for _, st := range stats {
		resp.Sites = append(resp.Sites, coverage(st))
	}
	resp.Total = coverage(assets.TotalStats(stats))
	respondJSON(w, http.StatusOK, resp)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"` // "healthy" or "degraded"
	Database  bool   `json:"database"`
	Queue     string `json:"queue"`
	Model     string `json:"model"`
	Timestamp string `json:"timestamp"`
}

// handleHealth checks if the system is healthy
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := true
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.opts.DB.PingContext(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("http: database ping failed")
			dbHealthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !dbHealthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	respondJSON(w, code, HealthResponse{
		Status:    status,
		Database:  dbHealthy,
		Queue:     s.opts.QueueBackend,
		Model:     s.opts.Model,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

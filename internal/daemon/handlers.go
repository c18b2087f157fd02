package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"atelier/internal/api"
	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/services"
)

const maxRequestBody = 1 << 20

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	res, err := s.daemon.jobs.Submit(r.Context(), api.ToSubmitRequest(req))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromSubmitResult(res))
}

func (s *apiServer) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := s.intParam(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := s.intParam(w, r, "offset")
	if !ok {
		return
	}
	recs, err := s.daemon.jobs.ListGenerations(r.Context(), generation.ListFilter{
		FavoritesOnly: boolParam(query.Get("favorites")),
		IncludeHidden: boolParam(query.Get("include_hidden")),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.GenerationListResponse{Items: api.FromGenerations(recs)})
}

func (s *apiServer) handleGeneration(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.jobs.GenerationStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromGenerationStatus(status))
}

func (s *apiServer) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.jobs.DeleteGeneration(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleLineage(w http.ResponseWriter, r *http.Request) {
	recs, err := s.daemon.jobs.Lineage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.GenerationListResponse{Items: api.FromGenerations(recs)})
}

func (s *apiServer) handleRemix(w http.ResponseWriter, r *http.Request) {
	var req api.RemixRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	res, err := s.daemon.jobs.Remix(r.Context(), api.ToRemixRequest(r.PathValue("id"), req))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromSubmitResult(res))
}

func (s *apiServer) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	value, err := s.daemon.jobs.ToggleFavorite(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ToggleResponse{ID: id, Value: value})
}

func (s *apiServer) handleToggleHidden(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	value, err := s.daemon.jobs.ToggleHidden(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ToggleResponse{ID: id, Value: value})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.jobs.Active(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromActiveView(view))
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, ok := s.intParam(w, r, "page")
	if !ok {
		return
	}
	limit, ok := s.intParam(w, r, "limit")
	if !ok {
		return
	}
	history, err := s.daemon.jobs.History(r.Context(), page, limit, r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromHistoryPage(history))
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.jobs.QueueStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromQueueStatus(status))
}

func (s *apiServer) handleDeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.jobs.DeleteQueueItem(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Database:     api.FromDatabaseHealth(status.Database),
		Checks:       api.FromCheckResults(status.Checks),
	})
}

// decodeBody reads a JSON request body into dst, answering 400 itself when
// the body is missing or malformed.
func (s *apiServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		message := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			message = "request body is required"
		}
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "decode body", message, nil))
		return false
	}
	return true
}

func (s *apiServer) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "parse query",
			fmt.Sprintf("%s must be a non-negative integer", name), nil))
		return 0, false
	}
	return value, true
}

func boolParam(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}

// statusForError maps classified errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	details := services.Details(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{
		Error: details.Message,
		Kind:  string(details.Kind),
		Hint:  details.Hint,
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

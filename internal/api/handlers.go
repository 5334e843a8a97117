// Package api is the HTTP request boundary for the assistant.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medquery/assistant/internal/audit"
	"github.com/medquery/assistant/internal/dispatch"
	"github.com/medquery/assistant/internal/session"
	"github.com/medquery/assistant/internal/shared/errors"
)

// QueryRequest is the inbound payload for one question.
type QueryRequest struct {
	SubjectID int64  `json:"subject_id"`
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// CitationView is one flattened reference in the response.
type CitationView struct {
	SourceDocument string            `json:"source_document"`
	ExcerptText    string            `json:"excerpt_text"`
	Metadata       map[string]string `json:"metadata"`
}

// QueryResponse is the outbound payload for a successful exchange.
type QueryResponse struct {
	SubjectID      int64          `json:"subject_id"`
	Question       string         `json:"question"`
	Answer         string         `json:"answer"`
	Citations      []CitationView `json:"citations"`
	SessionID      string         `json:"session_id,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	QueryType      string         `json:"query_type"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AuditTrail reads the persisted exchange history.
type AuditTrail interface {
	QueriesBySubject(ctx context.Context, subjectID int64, limit int) ([]audit.QueryRecord, error)
	CitationsByQuery(ctx context.Context, queryID int64) ([]audit.CitationRecord, error)
}

// Handler serves the query API.
type Handler struct {
	service *session.Service
	trail   AuditTrail
	health  func(ctx context.Context) error
}

// NewHandler creates the API handler. healthProbe checks the record
// store connection for /ready.
func NewHandler(service *session.Service, trail AuditTrail, healthProbe func(ctx context.Context) error) *Handler {
	return &Handler{service: service, trail: trail, health: healthProbe}
}

// Routes registers the query routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/query", h.Query)
	r.Get("/audit/queries", h.AuditQueries)
	r.Get("/audit/queries/{queryID}/citations", h.AuditCitations)
	return r
}

// Query answers one clinical question. Each request builds its own
// session (stateless deployment); the optional session_id resumes the
// retrieval backend's conversational state.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.SubjectID == 0 {
		writeError(w, errors.BadRequest("missing required field: subject_id"))
		return
	}
	if req.Question == "" {
		writeError(w, errors.BadRequest("missing required field: question"))
		return
	}

	sess, err := h.service.ResumeSession(r.Context(), req.SubjectID, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Ask(r.Context(), sess, req.Question)
	if err != nil {
		writeError(w, err)
		return
	}

	if !result.Success {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":            result.Error,
			"response_time_ms": result.ResponseTimeMs,
			"timestamp":        time.Now(),
		})
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		SubjectID:      req.SubjectID,
		Question:       req.Question,
		Answer:         result.Answer,
		Citations:      citationViews(result.Citations),
		SessionID:      sess.KBSessionToken,
		ResponseTimeMs: result.ResponseTimeMs,
		QueryType:      string(result.QueryType),
		Timestamp:      time.Now(),
	})
}

// AuditQueries returns the persisted exchanges for one subject,
// newest first.
func (h *Handler) AuditQueries(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(r.URL.Query().Get("subject_id"), 10, 64)
	if err != nil || subjectID <= 0 {
		writeError(w, errors.BadRequest("subject_id must be a positive integer"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	queries, err := h.trail.QueriesBySubject(r.Context(), subjectID, limit)
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"queries":    queries,
		"count":      len(queries),
	})
}

// AuditCitations returns the citation rows under one audit record.
func (h *Handler) AuditCitations(w http.ResponseWriter, r *http.Request) {
	queryID, err := strconv.ParseInt(chi.URLParam(r, "queryID"), 10, 64)
	if err != nil || queryID <= 0 {
		writeError(w, errors.BadRequest("query id must be a positive integer"))
		return
	}

	citations, err := h.trail.CitationsByQuery(r.Context(), queryID)
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query_id":  queryID,
		"citations": citations,
		"count":     len(citations),
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "healthcare-rag-assistant",
	})
}

// Ready reports readiness, probing the record store.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

func citationViews(groups []dispatch.CitationGroup) []CitationView {
	views := make([]CitationView, 0)
	for _, ref := range dispatch.FlattenReferences(groups) {
		views = append(views, CitationView{
			SourceDocument: ref.SourceDocument,
			ExcerptText:    ref.ExcerptText,
			Metadata: map[string]string{
				"s3_uri":         ref.SourceURI,
				"reference_type": ref.ReferenceType,
			},
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	appErr := errors.Internal(err)
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}

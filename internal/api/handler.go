package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/recall-engine/internal/consolidation"
	"github.com/nidhogg/recall-engine/internal/recall"
	"github.com/nidhogg/recall-engine/internal/store"
	"github.com/nidhogg/recall-engine/internal/temporal"
	"go.uber.org/zap"
)

// EventStore persists episodic events and quality feedback.
type EventStore interface {
	AppendEvent(ctx context.Context, e *store.Event) error
	MarkUseful(ctx context.Context, memoryID, layer string) error
	RecordAccess(ctx context.Context, memoryID, layer string) error
}

// SessionStore manages the active working session.
type SessionStore interface {
	Begin(ctx context.Context, projectID, sessionID, task, phase string) error
	RecordEvent(ctx context.Context, projectID, summary string) error
	End(ctx context.Context, projectID string) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	recaller *recall.Orchestrator
	chains   *temporal.Builder
	measurer *consolidation.Measurer
	events   EventStore
	sessions SessionStore
	logger   *zap.Logger
}

// NewHandler creates a new API handler. Any dependency may be nil, in
// which case its routes answer 503.
func NewHandler(
	recaller *recall.Orchestrator,
	chains *temporal.Builder,
	measurer *consolidation.Measurer,
	events EventStore,
	sessions SessionStore,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		recaller: recaller,
		chains:   chains,
		measurer: measurer,
		events:   events,
		sessions: sessions,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/recall", h.doRecall)

		// Episodic events and temporal chains
		r.Post("/events", h.appendEvent)
		r.Post("/links", h.createLink)
		r.Get("/links/stats", h.linkStats)
		r.Get("/links/type/{linkType}", h.linksByType)
		r.Get("/links/{id}/chain", h.eventChain)

		// Consolidation quality
		r.Get("/consolidation/{sessionID}/metrics", h.consolidationMetrics)

		// Quality feedback
		r.Post("/quality/{layer}/{memoryID}/useful", h.markUseful)
		r.Post("/quality/{layer}/{memoryID}/access", h.recordAccess)

		// Session lifecycle
		r.Post("/sessions", h.beginSession)
		r.Post("/sessions/{projectID}/events", h.recordSessionEvent)
		r.Delete("/sessions/{projectID}", h.endSession)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "recall-engine"})
}

type recallRequest struct {
	Query            string             `json:"query"`
	ProjectID        string             `json:"project_id"`
	CascadeDepth     *int               `json:"cascade_depth,omitempty"`
	Context          map[string]string  `json:"context,omitempty"`
	LayerQuality     map[string]float64 `json:"layer_quality,omitempty"`
	K                int                `json:"k,omitempty"`
	IncludeScores    bool               `json:"include_scores,omitempty"`
	ExplainReasoning bool               `json:"explain_reasoning,omitempty"`
}

func (h *Handler) doRecall(w http.ResponseWriter, r *http.Request) {
	if h.recaller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "recall not initialized"})
		return
	}
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	result := h.recaller.Recall(r.Context(), req.Query, recall.Options{
		ProjectID:        req.ProjectID,
		Context:          req.Context,
		CascadeDepth:     req.CascadeDepth,
		LayerQuality:     req.LayerQuality,
		K:                req.K,
		IncludeScores:    req.IncludeScores,
		ExplainReasoning: req.ExplainReasoning,
	})
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) appendEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event store not initialized"})
		return
	}
	var e store.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if e.Content == "" || e.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content and session_id are required"})
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := h.events.AppendEvent(r.Context(), &e); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type linkRequest struct {
	FromID       string  `json:"from_id"`
	ToID         string  `json:"to_id"`
	DeltaSeconds float64 `json:"delta_seconds"`
	SameSession  bool    `json:"same_session"`
	FileOverlap  bool    `json:"file_overlap"`
}

func (h *Handler) createLink(w http.ResponseWriter, r *http.Request) {
	if h.chains == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporal store not initialized"})
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.FromID == "" || req.ToID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from_id and to_id are required"})
		return
	}

	link, err := h.chains.CreateLink(r.Context(), req.FromID, req.ToID,
		req.DeltaSeconds, req.SameSession, req.FileOverlap)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if link == nil {
		// Events too far apart; nothing stored.
		writeJSON(w, http.StatusOK, map[string]string{"status": "no link"})
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handler) eventChain(w http.ResponseWriter, r *http.Request) {
	if h.chains == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporal store not initialized"})
		return
	}
	id := chi.URLParam(r, "id")
	q := temporal.ChainQuery{
		Type:     temporal.LinkType(r.URL.Query().Get("type")),
		MaxDepth: intQuery(r, "depth", 1),
	}

	var (
		links []*temporal.Link
		err   error
	)
	if r.URL.Query().Get("direction") == "backward" {
		links, err = h.chains.BackwardChain(r.Context(), id, q)
	} else {
		links, err = h.chains.ForwardChain(r.Context(), id, q)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": id,
		"links":    links,
	})
}

func (h *Handler) linksByType(w http.ResponseWriter, r *http.Request) {
	if h.chains == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporal store not initialized"})
		return
	}
	lt := temporal.LinkType(chi.URLParam(r, "linkType"))
	minConf := floatQuery(r, "min_confidence", 0)

	links, err := h.chains.LinksByType(r.Context(), lt, minConf)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) linkStats(w http.ResponseWriter, r *http.Request) {
	if h.chains == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporal store not initialized"})
		return
	}
	stats, err := h.chains.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) consolidationMetrics(w http.ResponseWriter, r *http.Request) {
	if h.measurer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "measurer not initialized"})
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	projectID := r.URL.Query().Get("project_id")
	report := h.measurer.Measure(r.Context(), sessionID, projectID)
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) markUseful(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event store not initialized"})
		return
	}
	layer := chi.URLParam(r, "layer")
	memoryID := chi.URLParam(r, "memoryID")
	if err := h.events.MarkUseful(r.Context(), memoryID, layer); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) recordAccess(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event store not initialized"})
		return
	}
	layer := chi.URLParam(r, "layer")
	memoryID := chi.URLParam(r, "memoryID")
	if err := h.events.RecordAccess(r.Context(), memoryID, layer); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type sessionRequest struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	Phase     string `json:"phase"`
}

func (h *Handler) beginSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session store not initialized"})
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ProjectID == "" || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id and session_id are required"})
		return
	}
	if err := h.sessions.Begin(r.Context(), req.ProjectID, req.SessionID, req.Task, req.Phase); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type sessionEventRequest struct {
	Summary string `json:"summary"`
}

func (h *Handler) recordSessionEvent(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session store not initialized"})
		return
	}
	projectID := chi.URLParam(r, "projectID")
	var req sessionEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Summary == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "summary is required"})
		return
	}
	if err := h.sessions.RecordEvent(r.Context(), projectID, req.Summary); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session store not initialized"})
		return
	}
	projectID := chi.URLParam(r, "projectID")
	if err := h.sessions.End(r.Context(), projectID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func floatQuery(r *http.Request, key string, fallback float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

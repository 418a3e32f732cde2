// Package httpapi exposes research runs over REST and live WebSocket tails.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ResearchPipeline/internal/broadcast"
	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/usecase"
)

const defaultHistoryLimit = 20

// Research is the use-case surface served over HTTP.
type Research interface {
	Start(company, depth string) (usecase.RunHandle, error)
	Status(ctx context.Context, runID string) (domain.RunStatusView, error)
	Result(ctx context.Context, runID string) (domain.Report, error)
	History(ctx context.Context, limit int) ([]domain.RunSummary, error)
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
	Cancel(runID string) error
}

// Hub hands out live subscriptions to a scope.
type Hub interface {
	Subscribe(scopeID string) *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

// Handler serves the HTTP API.
type Handler struct {
	research Research
	hub      Hub
	logger   *slog.Logger
}

// NewHandler wires the research service and the broadcaster.
func NewHandler(research Research, hub Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{research: research, hub: hub, logger: logger.With("component", "http")}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Route("/api/research", func(r chi.Router) {
		r.Post("/", h.startResearch)
		r.Get("/history", h.history)
		r.Get("/{runId}", h.status)
		r.Delete("/{runId}", h.cancel)
		r.Get("/{runId}/result", h.result)
		r.Get("/{runId}/ws", h.runSocket)
	})
	r.Route("/api/conversations/{conversationId}", func(r chi.Router) {
		r.Get("/messages", h.messages)
		r.Get("/ws", h.conversationSocket)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

type startRequest struct {
	Company string `json:"company"`
	Depth   string `json:"depth"`
}

func (h *Handler) startResearch(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	handle, err := h.research.Start(req.Company, req.Depth)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.research.Status(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if err := h.research.Cancel(runID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request) {
	report, err := h.research.Result(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	items, err := h.research.History(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.research.Messages(r.Context(), chi.URLParam(r, "conversationId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrRunNotCompleted):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

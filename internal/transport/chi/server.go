// Package chi exposes the retrieval pipeline over HTTP for the web client.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bartender/internal/domain"
	logpkg "bartender/internal/logger"
)

const maxQueryBytes = 4 << 10

// Pipeline is the part of the retrieval service the HTTP API needs.
type Pipeline interface {
	Reply(ctx context.Context, query string, topK int) (domain.Reply, error)
	Items(section string) ([]domain.CatalogItem, bool)
	Ready() bool
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
	Degraded bool   `json:"degraded,omitempty"`
}

type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	pipeline      Pipeline
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(pipeline Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline: pipeline,
		logger:   logger,
		errorHandlers: []errorHandler{
			sentinelHandler(domain.ErrInvalidTopK, http.StatusBadRequest, "invalid_top_k"),
			sentinelHandler(domain.ErrNotReady, http.StatusServiceUnavailable, "not_ready"),
			sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider_error"),
		},
	}
}

// Chat handles POST /api/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}

	reply, err := s.pipeline.Reply(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply.Text, Degraded: reply.Degraded})
}

// Section handles GET /api/{section}.
func (s *Server) Section(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "section")
	items, ok := s.pipeline.Items(name)
	if !ok {
		writeError(w, http.StatusNotFound, "section_not_found", "unknown section "+name)
		return
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	if !s.pipeline.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logpkg.FromContext(ctx)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

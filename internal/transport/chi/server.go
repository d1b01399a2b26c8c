// Package chi exposes the orchestrator over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/domain"
	"github.com/kitedocs/searchcore/internal/usecase/orchestrator"
)

// Error response codes.
const (
	codeBadRequest      = "bad_request"
	codeValidation      = "validation_failed"
	codeUpstreamTimeout = "upstream_timeout"
	codeUpstreamError   = "upstream_error"
	codeInternal        = "internal_error"
)

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch   *orchestrator.Service
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(orch *orchestrator.Service, logger *zap.Logger) *Server {
	return &Server{orch: orch, logger: logger}
}

// Mount registers all routes on the router.
func (s *Server) Mount(r chi.Router) {
	r.Post("/v1/search", s.handleSearch)
	r.Post("/v1/cache/warm", s.handleWarmCache)
	r.Get("/v1/cache/stats", s.handleCacheStats)
	r.Delete("/v1/cache", s.handleClearCache)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	resp, err := s.orch.Search(r.Context(), req)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type warmRequest struct {
	Queries []orchestrator.WarmItem `json:"queries"`
}

func (s *Server) handleWarmCache(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "queries must not be empty")
		return
	}

	report := s.orch.WarmCache(r.Context(), req.Queries)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetCacheStats(r.Context()))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !s.orch.ClearAllCaches(r.Context()) {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to clear caches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.HealthCheck(r.Context()))
}

func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, codeValidation, verr.Error())
		return
	}

	switch domain.ProviderCode(err) {
	case domain.CodeTimeout:
		writeError(w, http.StatusGatewayTimeout, codeUpstreamTimeout, "upstream provider timed out")
	case domain.CodeInvalidResponse, domain.CodeProviderError:
		writeError(w, http.StatusBadGateway, codeUpstreamError, "upstream provider failed")
	default:
		s.logger.Error("Search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

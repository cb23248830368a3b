// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Submit queues an analysis. duplicate reports a request id seen before,
	// in which case runID is the run it started. Errors wrapping
	// model.ErrInvalidInput map to 400 and queue errors to 429.
	Submit(ctx context.Context, req analysis.Request) (runID string, duplicate bool, err error)

	// Report returns the record of a run, or an error wrapping
	// repository.ErrNotFound.
	Report(ctx context.Context, runID string) (repository.Record, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	analysesHandler *AnalysesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		analysesHandler: NewAnalysesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /analyses", MetricsMiddleware(s.analysesHandler.HandleSubmit, "analyses"))
	mux.HandleFunc("GET /analyses/{id}", MetricsMiddleware(s.analysesHandler.HandleGet, "analysis"))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Codes carried in error bodies.
const (
	codeBadRequest   = "bad_request"
	codeNotFound     = "not_found"
	codeBackpressure = "backpressure"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// Package http exposes the engine over a JSON API. Handlers stay thin:
// decode, validate, call the orchestrator, encode.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"placement-engine/internal/common/config"
	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/engine/orchestrator"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config *config.ServerConfig
	logger logger.Logger
	orch   *orchestrator.Orchestrator
	errs   *errors.ErrorHandler
	server *http.Server
}

func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, log logger.Logger) *Server {
	s := &Server{
		config: &cfg.Server,
		logger: log.WithFields(map[string]interface{}{"component": "http"}),
		orch:   orch,
		errs:   errors.NewErrorHandler(log),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	// invitations
	mux.HandleFunc("POST /invitations", s.handleIssueInvitation)
	mux.HandleFunc("GET /invitations/{token}", s.handleValidateInvitation)
	mux.HandleFunc("POST /invitations/{token}/consume", s.handleConsumeInvitation)

	// applications
	mux.HandleFunc("POST /applications", s.handleSubmitApplication)
	mux.HandleFunc("GET /applications/{id}", s.handleGetApplication)
	mux.HandleFunc("POST /applications/{id}/qualify", s.transitionHandler(transitionQualify))
	mux.HandleFunc("POST /applications/{id}/send-to-review", s.transitionHandler(transitionSendToReview))
	mux.HandleFunc("POST /applications/{id}/accept", s.handleAcceptApplication)
	mux.HandleFunc("POST /applications/{id}/reject", s.transitionHandler(transitionReject))
	mux.HandleFunc("POST /applications/{id}/complete-interview", s.transitionHandler(transitionComplete))
	mux.HandleFunc("POST /applications/{id}/no-show", s.transitionHandler(transitionNoShow))
	mux.HandleFunc("POST /applications/{id}/hire", s.handleHireApplicant)
	mux.HandleFunc("POST /applications/{id}/post-interview-reject", s.transitionHandler(transitionPostReject))

	// ratings
	mux.HandleFunc("POST /ratings", s.handleSubmitRating)
	mux.HandleFunc("GET /ratings/{rateeType}/{id}", s.handleGetRatings)

	// employment
	mux.HandleFunc("POST /employment-records/{id}/end", s.handleEndEmployment)

	// operational
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("http server starting", map[string]interface{}{
		"addr": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down", nil)
	return s.server.Shutdown(ctx)
}

// writeJSON is the single success-path encoder.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

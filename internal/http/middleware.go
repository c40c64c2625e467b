package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/metrics"
	"placement-engine/internal/models"
)

type contextKey string

const actorKey contextKey = "actor"

// Gateway identity headers. Authentication itself happens upstream; these
// headers are trusted input here.
const (
	headerActorID   = "X-Actor-ID"
	headerActorType = "X-Actor-Type"
)

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.observe(s.injectActor(next))
}

// injectActor parses the gateway identity headers into the request context.
// Requests without identity still pass; handlers that need an actor reject
// them individually.
func (s *Server) injectActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerActorID)
		actorType := models.ActorType(r.Header.Get(headerActorType))
		if id != "" && models.ValidActorType(actorType) {
			ctx := context.WithValue(r.Context(), actorKey, models.Actor{ID: id, Type: actorType})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom returns the caller identity or an authorization error.
func actorFrom(r *http.Request) (models.Actor, error) {
	actor, ok := r.Context().Value(actorKey).(models.Actor)
	if !ok {
		return models.Actor{}, errors.NewAuthorizationError("missing caller identity")
	}
	return actor, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if pattern := r.Pattern; pattern != "" {
			route = pattern
		}
		duration := time.Since(start)
		metrics.RequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(duration.Seconds())

		s.logger.Info("request handled", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": duration.String(),
		})
	})
}

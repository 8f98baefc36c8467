package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/metrics"
	"github.com/sjawhar/meetscribe/internal/session"
)

const shutdownTimeout = 10 * time.Second

type Deps struct {
	Hub      *Hub
	Sessions *session.Manager
	Store    SessionStore
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	// Warnings are configuration warnings reported by /api/status.
	Warnings       []string
	MaxUploadBytes int64
}

type Server struct {
	hub            *Hub
	sessions       *session.Manager
	store          SessionStore
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
	warnings       []string
	maxUploadBytes int64
}

func New(deps Deps) *Server {
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		hub:            hub,
		sessions:       deps.Sessions,
		store:          deps.Store,
		metrics:        deps.Metrics,
		gatherer:       deps.Gatherer,
		warnings:       deps.Warnings,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	s.registerAPIRoutes(mux)
	return mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// Hijacked websocket connections are not tracked by Shutdown; they end when
// their clients go away.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log := logging.WithComponent("server")
		log.Info().Str("addr", addr).Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

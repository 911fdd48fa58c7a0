// Package server wires the HTTP API, WebSocket event stream and middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/api/ws"
	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/server/middleware"
	"github.com/querydeck/querydeck/internal/session"
	redisstore "github.com/querydeck/querydeck/internal/store/redis"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	sessions   *session.Manager
	pubsub     *redisstore.PubSub // nil when Redis is not configured
	wsHub      *ws.Hub
	cfg        *config.Config
}

// New creates a Server with all routes wired. pubsub may be nil; the
// WebSocket event stream is only mounted when it is present.
func New(ctx context.Context, cfg *config.Config, sessions *session.Manager, pubsub *redisstore.PubSub) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router:   router,
		sessions: sessions,
		pubsub:   pubsub,
		cfg:      cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// Mount API routes on /api/v1.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 10, 30))

		apiConfig := huma.DefaultConfig("QueryDeck API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, sessions)
	})

	// WebSocket event stream, only when Redis pub/sub is configured.
	if pubsub != nil {
		hub := ws.NewHub(pubsub)
		s.wsHub = hub
		router.Route("/ws", func(r chi.Router) {
			registerWSRoutes(r, hub)
		})
		log.Info().Msg("websocket event stream enabled")
	}

	// Health check.
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

package server

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/querydeck/querydeck/internal/api/v1"
	"github.com/querydeck/querydeck/internal/api/ws"
	"github.com/querydeck/querydeck/internal/session"
)

// sessionService adapts *session.Manager to the v1 handler interface.
type sessionService struct {
	manager *session.Manager
}

func (s *sessionService) Get(ctx context.Context, id string) (v1.Session, error) {
	coord, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return coord, nil
}

func (s *sessionService) Active() []string {
	return s.manager.Active()
}

func registerAPIRoutes(api huma.API, manager *session.Manager) {
	v1.RegisterSessionRoutes(api, &sessionService{manager: manager})
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
}

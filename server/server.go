package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-fitness-auth/authclient"
	"github.com/jrsteele09/go-fitness-auth/internal/config"
	"github.com/jrsteele09/go-fitness-auth/server/clientsession"
	"github.com/rs/zerolog/log"
)

// ClientFactory builds the auth client for a browser session. sessionID is stable for the
// browser's lifetime, so a factory can key persisted provider state by it.
type ClientFactory func(ctx context.Context, sessionID string) (*authclient.Client, error)

type Server struct {
	ctx       context.Context
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	sessions  clientsession.Repo
	newClient ClientFactory
}

// New builds the server. ctx bounds the lifetime of every auth client the server creates.
func New(ctx context.Context, cfg config.Config, sessions clientsession.Repo, newClient ClientFactory) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[Server New] config is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("[Server New] client session repo is required")
	}
	if newClient == nil {
		return nil, fmt.Errorf("[Server New] client factory is required")
	}

	s := &Server{
		ctx:       ctx,
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		sessions:  sessions,
		newClient: newClient,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// SweepIdleClients closes idle browser clients every interval until ctx is done.
func (s *Server) SweepIdleClients(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.ExpireIdle(); n > 0 {
				log.Debug().Int("expired", n).Msg("closed idle auth clients")
			}
		}
	}
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func logRequest(method, path string, status int, elapsed time.Duration) {
	log.Info().Msgf("[%-19s] %s %s %s", colourMethod(method), path, colourStatus(status), elapsed.Round(time.Microsecond))
}

func logError(method, path, error string) {
	log.Error().Msgf("[%-19s] %s %s", colourMethod(method), path, Red+error+ResetColor)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

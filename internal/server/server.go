// Package server is the HTTP surface: JSON routes for the authorization
// flow and the authenticated content actions.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/plumelab/chirpd/internal/auth"
	"github.com/plumelab/chirpd/internal/config"
	"github.com/plumelab/chirpd/internal/dispatch"
	"github.com/plumelab/chirpd/internal/logger"
	"github.com/plumelab/chirpd/internal/store"
	"github.com/plumelab/chirpd/internal/twitter"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second

	sessionCookieName = "chirpd_session"
)

// Generator produces reply text; failures degrade to a fallback string
// inside the implementation, never to an error here.
type Generator interface {
	Generate(ctx context.Context, sourceText, steering string) string
	GenerateWithPersona(ctx context.Context, model, systemPrompt, sourceText, steering string) string
}

// Server wires the flow, dispatcher and generator to HTTP routes.
type Server struct {
	cfg        *config.ServerConfig
	flow       *auth.Flow
	dispatcher *dispatch.Dispatcher
	twitter    *twitter.Client
	generator  Generator
	store      store.Store
}

// NewServer creates the HTTP server over the core components.
func NewServer(cfg *config.ServerConfig, flow *auth.Flow, d *dispatch.Dispatcher, tw *twitter.Client, gen Generator, st store.Store) *Server {
	return &Server{
		cfg:        cfg,
		flow:       flow,
		dispatcher: d,
		twitter:    tw,
		generator:  gen,
		store:      st,
	}
}

// Routes assembles the route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/url", s.handleAuthURL)
	mux.HandleFunc("GET /auth/login", s.handleAuthLogin)
	mux.HandleFunc("GET /auth/callback", s.handleAuthCallback)

	mux.HandleFunc("POST /tweet", s.handleTweet)
	mux.HandleFunc("POST /reply", s.handleReply)
	mux.HandleFunc("POST /reply/ai", s.handleReplyAI)
	mux.HandleFunc("POST /reply/preview", s.handleReplyPreview)
	mux.HandleFunc("POST /like", s.handleLike)
	mux.HandleFunc("POST /unlike", s.handleUnlike)
	mux.HandleFunc("POST /retweet", s.handleRetweet)
	mux.HandleFunc("POST /unretweet", s.handleUnretweet)

	mux.HandleFunc("GET /user/{loggedUserId}", s.handleUser)
	mux.HandleFunc("POST /logout/{loggedUserId}", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)

	return CORS(RequestLogger(mux))
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	errChan := make(chan error, 1)

	go func() {
		logger.Info("Starting server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server", zap.Duration("timeout", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}

// Module provides the HTTP server
var Module = fx.Module("server",
	fx.Provide(NewServer),
)

// ABOUTME: HTTP server wiring routes, middleware, and lifecycle
// ABOUTME: Read routes are public; every mutating route sits behind auth

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/config"
	"github.com/grindlog/grindlog/internal/passkey"
	"github.com/grindlog/grindlog/internal/store"
)

// How long a one-time signup link works. The first-run bootstrap link is
// deliberately short-lived; invites minted by users get a day.
const (
	bootstrapTokenTTL = time.Hour
	inviteTokenTTL    = 24 * time.Hour
)

// Server is the grindlog HTTP server.
type Server struct {
	config   *config.Config
	store    store.Store
	sessions *auth.SessionManager
	tokens   *auth.TokenIssuer
	passkeys *passkey.Service
	mw       *auth.Middleware
	logger   *slog.Logger
	http     *http.Server
}

// New creates a server from configuration and an opened store.
func New(cfg *config.Config, st store.Store) (*Server, error) {
	sessions := auth.NewSessionManager(st, cfg.Auth.SessionTTL, cfg.Auth.SecureCookies)
	tokens := auth.NewTokenIssuer(st)

	passkeys, err := passkey.NewService(passkey.Config{
		RPID:          cfg.Auth.RPID,
		RPDisplayName: cfg.Auth.RPDisplayName,
		BaseURL:       cfg.Server.BaseURL,
	}, st)
	if err != nil {
		return nil, fmt.Errorf("initializing passkeys: %w", err)
	}

	s := &Server{
		config:   cfg,
		store:    st,
		sessions: sessions,
		tokens:   tokens,
		passkeys: passkeys,
		mw:       auth.NewMiddleware(sessions, tokens),
		logger:   slog.Default().With("component", "server"),
	}

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.Server.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Ceremony and hand-off routes are brute-force targets.
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(httprate.LimitByIP(30, time.Minute))

				r.Post("/signup/begin", s.handleSignupBegin)
				r.Post("/signup/finish", s.handleSignupFinish)
				r.Post("/login/begin", s.handleLoginBegin)
				r.Post("/login/finish", s.handleLoginFinish)
				r.Post("/logout", s.handleLogout)

				r.With(s.mw.RequireSession).Post("/register/begin", s.handleRegisterBegin)
				r.With(s.mw.RequireSession).Post("/register/finish", s.handleRegisterFinish)

				r.Post("/cli/start", s.handleHandoffStart)
				r.With(s.mw.RequireSession).Post("/cli/approve", s.handleHandoffApprove)
			})

			// The CLI polls every couple of seconds while waiting for the
			// browser, so the ceremony bucket would starve it. Poll gets
			// its own wider bucket.
			r.With(httprate.LimitByIP(120, time.Minute)).Get("/cli/poll", s.handleHandoffPoll)
		})

		r.With(s.mw.RequireAuth).Get("/auth/me", s.handleMe)

		r.Route("/tokens", func(r chi.Router) {
			r.Use(s.mw.RequireAuth)
			r.Get("/", s.handleListTokens)
			r.Post("/", s.handleCreateToken)
			r.Delete("/{id}", s.handleRevokeToken)
		})

		r.With(s.mw.RequireAuth).Post("/invites", s.handleCreateInvite)

		r.Get("/roasters", s.handleListRoasters)
		r.With(s.mw.RequireAuth).Post("/roasters", s.handleCreateRoaster)
		r.Get("/bags", s.handleListBags)
		r.With(s.mw.RequireAuth).Post("/bags", s.handleCreateBag)
		r.Get("/brews", s.handleListBrews)
		r.With(s.mw.RequireAuth).Post("/brews", s.handleCreateBrew)
	})

	return r
}

// Start runs the server until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.config.Server.Addr, "base_url", s.config.Server.BaseURL)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// decode parses a JSON request body.
func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/recovery"
	"github.com/shohag/reclaim/internal/storage"
)

type Server struct {
	cfg       *config.Config
	store     storage.Storage
	service   *recovery.Service
	processor *recovery.Processor
	router    *chi.Mux
	log       zerolog.Logger
	http      *http.Server
}

func NewServer(cfg *config.Config, store storage.Storage, service *recovery.Service, processor *recovery.Processor, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		service:   service,
		processor: processor,
		log:       log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	acctHandler := NewAccountHandler(s.store)
	payHandler := NewPaymentHandler(s.store, s.service)
	statsHandler := NewStatsHandler(s.store)
	hookHandler := NewWebhookHandler(s.store, s.service, s.cfg.Stripe.WebhookSecret, s.log)
	procHandler := NewProcessHandler(s.processor, s.cfg.Recovery.TriggerSecret, s.cfg.Recovery.TriggerTolerance)

	r.Get("/health", statsHandler.Health)

	// Authenticated by signature, not by API key.
	r.Post("/webhooks/stripe/{accountID}", hookHandler.Stripe)
	r.Post("/internal/process", procHandler.Process)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AdminMiddleware(s.cfg.Server.AdminToken))

			r.Post("/accounts", acctHandler.Create)
			r.Get("/accounts", acctHandler.List)
			r.Get("/accounts/{id}", acctHandler.Get)
			r.Post("/accounts/{id}/disconnect", acctHandler.Disconnect)
			r.Post("/accounts/{id}/connect", acctHandler.Connect)
			r.Post("/accounts/{id}/rotate-key", acctHandler.RotateKey)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			r.Get("/payments", payHandler.List)
			r.Get("/payments/{id}", payHandler.Get)
			r.Post("/payments/{id}/retry", payHandler.Retry)

			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	if s.cfg.Server.AdminToken == "" {
		s.log.Warn().Msg("server.admin_token is empty, account admin routes are unauthenticated")
	}
	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

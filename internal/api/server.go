// Package api exposes the generation backend over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/service"
)

const maxBodyBytes = 32 << 20

type Config struct {
	Addr           string
	JWTSecret      string
	SignupCredits  decimal.Decimal
	RequestTimeout time.Duration
}

type Server struct {
	cfg        Config
	log        *slog.Logger
	generation *service.GenerationService
	tasks      *service.TaskPoller
	ledger     *service.LedgerService
	artifacts  *service.ArtifactService
	vouchers   *service.VoucherService
	upgrader   websocket.Upgrader
	router     *chi.Mux
}

func NewServer(cfg Config, log *slog.Logger, generation *service.GenerationService, tasks *service.TaskPoller, ledger *service.LedgerService, artifacts *service.ArtifactService, vouchers *service.VoucherService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:        cfg,
		log:        log,
		generation: generation,
		tasks:      tasks,
		ledger:     ledger,
		artifacts:  artifacts,
		vouchers:   vouchers,
		router:     r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate with a token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/images/generate", s.handleGenerate(models.OperationImageGeneration))
		r.Post("/images/upscale", s.handleGenerate(models.OperationUpscale))
		r.Post("/images/skin-enhance", s.handleGenerate(models.OperationSkinEnhance))
		r.Post("/images/inpaint", s.handleGenerate(models.OperationInpaint))
		r.Post("/videos/generate", s.handleGenerate(models.OperationVideoGeneration))
		r.Post("/quote", s.handleQuote)

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Post("/refresh", s.handleRefreshTask)
			r.Get("/watch", s.handleWatchTask)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", s.handleListArtifacts)
			r.Patch("/{id}", s.handleUpdateArtifact)
			r.Delete("/{id}", s.handleDeleteArtifact)
		})

		r.Get("/account", s.handleGetAccount)
		r.Post("/account", s.handleEnsureAccount)
		r.Get("/usage", s.handleListUsage)
		r.Post("/vouchers/redeem", s.handleRedeemVoucher)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		// Synchronous generations wait on the provider.
		WriteTimeout: timeout + 30*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

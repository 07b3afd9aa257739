// Package main provides the entry point for the call intake service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/SumitKumar-17/cre-agent/internal/config"
	"github.com/SumitKumar-17/cre-agent/internal/dispatcher"
	"github.com/SumitKumar-17/cre-agent/internal/handler"
	"github.com/SumitKumar-17/cre-agent/internal/logger"
	"github.com/SumitKumar-17/cre-agent/internal/sheetlog"
)

// Run is the testable entrypoint for the application.
func Run(ctx context.Context) error {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	log.Info("Starting CRE call intake service")

	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", zap.Error(err))
		return err
	}

	svc, err := sheetsService(ctx, cfg)
	if err != nil {
		log.Error("sheets client init failed", zap.Error(err))
		return err
	}

	writer := sheetlog.New(svc, cfg, log)
	dispatch := dispatcher.New(writer, cfg, log)
	validate := validator.New()

	h := handler.New(log, dispatch, writer, validate, cfg.WebhookSecret)
	r := chi.NewRouter()
	r.Get("/", h.Root)
	r.Get("/healthz", h.Healthz)
	r.Get("/api/calls", h.RecentCalls)
	r.Post("/webhook/vapi", h.Webhook)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go dispatch.Start()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	dispatch.Stop()
	return nil
}

// sheetsService builds the Google Sheets client. Without a credentials file
// the client is unauthenticated, which is enough for local runs against an
// emulator endpoint and fails loudly against the real API.
func sheetsService(ctx context.Context, cfg *config.Config) (*sheets.Service, error) {
	if cfg.CredentialsFile != "" {
		return sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return sheets.NewService(ctx, option.WithoutAuthentication())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx); err != nil {
		os.Exit(1)
	}
}

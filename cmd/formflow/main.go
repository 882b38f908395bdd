package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/paydeck/formflow/internal/app"
	"github.com/paydeck/formflow/internal/app/httpapi"
	"github.com/paydeck/formflow/internal/app/metrics"
	"github.com/paydeck/formflow/internal/config"
	"github.com/paydeck/formflow/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log := logger.NewDefault("formflow")
	cfg := config.LoadOrDefault()

	application, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to initialise application")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application, httpapi.Options{
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, log))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           metrics.InstrumentHandler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start services")
		os.Exit(1)
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("formflow listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown failed")
	}
	log.Info("shutdown complete")
}

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
	"go.uber.org/zap"

	"listingflow/internal/app"
	"listingflow/internal/config"
	"listingflow/internal/devserver"
	"listingflow/internal/logging"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, true)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}

	addr := os.Getenv("DEV_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           devserver.NewRouter(log, a.Webhooks.Handle, a.EbayDrafts.Handle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("dev server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}

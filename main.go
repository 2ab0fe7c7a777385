package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/handlers"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/middleware"
	"github.com/nijaru/catchup/repository/sqlite"
	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	closer, err := logger.Setup(cfg.Env, cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}
	defer closer.Close()

	if missing := cfg.MissingProviders(); len(missing) > 0 {
		logrus.WithField("providers", missing).Warn("Provider credentials missing, requests will fall back")
	}

	injector := setupDI(cfg)

	handler, err := do.Invoke[*handlers.Handler](injector)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build handlers")
	}
	if cfg.Database.Enabled {
		db := do.MustInvoke[*sqlite.DB](injector)
		defer func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close database")
			}
		}()
	}

	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		rateLimit = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize).Middleware
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: middleware.Chain(
			handler.Routes(),
			middleware.LoggingMiddleware,
			middleware.CORS(cfg.CORS),
			rateLimit,
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"env":     cfg.Env,
			"version": cfg.Version,
			"budget":  cfg.Pipeline.Budget,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server shutdown error")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"audiovault/internal/platform/config"
	"audiovault/internal/platform/httpserver"
	"audiovault/internal/platform/logger"
	"audiovault/internal/platform/tracing"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	configPath := flag.String("config", os.Getenv("AUDIOVAULT_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	tp, err := tracing.NewProvider(ctx, cfg.Tracing, cfg.Env, log)
	if err != nil {
		return err
	}

	app, err := build(ctx, cfg, log, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return err
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		if err := app.recorder.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit retry worker stopped", "error", err)
		}
	}()

	srv := httpserver.New(cfg.Server.Addr, app.router, cfg.Server.ReadHeaderTimeout)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting audiovault",
			"addr", cfg.Server.Addr,
			"env", cfg.Env,
			"store", cfg.Store.Backend,
			"audit_sinks", cfg.Audit.Sinks,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	stopWorkers()
	<-recorderDone
	if err := app.recorder.Close(cfg.Audit.CloseTimeout); err != nil {
		log.Error("audit entries left undelivered", "pending", app.recorder.Pending(), "error", err)
		errs = append(errs, err)
	}
	app.close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

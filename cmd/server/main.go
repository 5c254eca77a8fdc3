// Command server runs nested cross-validation jobs behind a REST and
// JSON-RPC 2.0 API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/nestedcv/internal/config"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/logging"
	"github.com/copyleftdev/nestedcv/internal/server"
	"github.com/copyleftdev/nestedcv/internal/telemetry"
)

const version = "1.0.0"

// requestTimeout bounds a single HTTP request. Jobs run detached from it.
const requestTimeout = 60 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "nestedcv-server",
		"version": version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, serviceLogger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer); err != nil {
		serviceLogger.Error("Server stopped with error", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	serviceLogger.Info("Server exited properly")
}

// run serves until ctx is cancelled, then drains HTTP connections and
// cancels the jobs still in flight.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) error {
	srv := server.NewServer(cfg, logger, telemetry.NewMetrics(reg))
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      newRouter(srv, logger, gatherer),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", map[string]interface{}{
			"address":     httpServer.Addr,
			"max_jobs":    cfg.Optimization.WorkerCount,
			"outer_folds": cfg.Tuning.OuterFolds,
			"budget":      cfg.Tuning.Budget,
		})
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		srv.Close()
		return errors.Wrap(err, errors.ErrInvalidConfiguration, "listen")
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if err := srv.Close(); err != nil {
		logger.Error("Error closing server resources", map[string]interface{}{"error": err})
	}
	return shutdownErr
}

func newRouter(srv *server.Server, logger *logging.Logger, gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(errors.RecoveryMiddleware(logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("Health check")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv.RegisterRoutes(r)
	return r
}

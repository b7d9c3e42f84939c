package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"fmeacore/internal/api"
	"fmeacore/internal/blob"
	"fmeacore/internal/config"
	"fmeacore/internal/core"
	"fmeacore/internal/directory"
	"fmeacore/internal/events"
	"fmeacore/internal/export"
	"fmeacore/internal/insight"
)

// App wires the service and its optional backends from one Config.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	Service   *core.Service
	Blob      blob.Store
	Exports   *export.Worker
	Insights  *insight.Runner
	Directory *directory.Directory

	registry *prometheus.Registry
	tracing  *sdktrace.TracerProvider
	natsConn *nats.Conn
	redis    *redis.Client
}

// NewApp opens storage and connects every configured backend. Close releases them.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := app.init(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	prom, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if a.Directory, err = directory.Load(a.cfg.Directory.File); err != nil {
		return err
	}
	if a.tracing, err = newTracerProvider(a.cfg.Trace, os.Stderr); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	store, err := core.OpenStorage(ctx, a.cfg.StorageOptions(), core.NewRulesEngineWithThreshold(a.cfg.HighRPNThreshold))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	opts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder("")}),
		core.WithTracer(core.NewOTelTracer(a.tracing.Tracer(serviceName))),
		core.WithHighRPNThreshold(a.cfg.HighRPNThreshold),
	}
	if a.cfg.NATS.URL != "" {
		if a.natsConn, err = events.Connect(a.cfg.NATS.URL, "fmeacore"); err != nil {
			_ = closeStore(store)
			return fmt.Errorf("connect nats: %w", err)
		}
		opts = append(opts, core.WithChangePublisher(events.NewPublisher(a.natsConn, a.cfg.NATS.Prefix)))
		a.logger.Info("change events enabled", "url", a.cfg.NATS.URL, "prefix", a.cfg.NATS.Prefix)
	}
	a.Service = core.NewService(store, opts...)

	if a.Blob, err = blob.Open(ctx, a.cfg.Blob); err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	a.Exports = export.NewWorker(a.Service, a.Blob, export.Options{
		QueueSize: a.cfg.Export.QueueSize,
		URLExpiry: a.cfg.Export.URLExpiry,
		Logger:    a.logger,
	})

	completer, err := a.insightBackend()
	if err != nil {
		return err
	}
	a.Insights = insight.NewRunner(completer, a.cfg.AI.RunnerOptions(a.logger))
	return nil
}

func closeStore(store core.PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *App) insightBackend() (insight.Completer, error) {
	if !a.cfg.AI.Enabled() {
		a.logger.Info("ai insights disabled: no api key configured")
		return nil, nil
	}
	backend, err := insight.NewOpenAIBackend(a.cfg.AI.APIKey, a.cfg.AI.Model, a.cfg.AI.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ai backend: %w", err)
	}
	if a.cfg.Redis.URL == "" {
		return backend, nil
	}
	if a.redis, err = insight.NewRedisClient(a.cfg.Redis.URL); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return insight.NewCachedCompleter(backend, a.redis, a.cfg.Redis.Prefix, a.cfg.AI.CacheTTL), nil
}

// MetricsHandler serves the app's Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// Router returns the HTTP API over the app's components.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Deps{
		Service:   a.Service,
		Exports:   a.Exports,
		Insights:  a.Insights,
		Directory: a.Directory,
		Metrics:   a.MetricsHandler(),
		Logger:    a.logger,
	})
}

// Close stops background work and releases connections.
func (a *App) Close() error {
	var errs []error
	if a.Insights != nil {
		a.Insights.Wait()
	}
	if a.Exports != nil {
		if err := a.Exports.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.Service != nil {
		if err := a.Service.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loadApp reads the config named by --config and builds the App with a logger
// writing to the command's stderr.
func loadApp(cmd *cobra.Command) (*App, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.Logger(cmd.ErrOrStderr())
	return NewApp(cmd.Context(), cfg, logger)
}

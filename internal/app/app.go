package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"relayd/internal/domain"
	"relayd/internal/infra/aggregator"
	"relayd/internal/infra/config"
	"relayd/internal/infra/loop"
	"relayd/internal/infra/session"
	"relayd/internal/infra/synthesis"
	"relayd/internal/infra/telemetry"
	"relayd/internal/infra/templates"
)

// App wires configuration, sessions, the catalog, and the synthesis loop.
type App struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger}
}

type ServeConfig struct {
	ConfigPath string
}

type ValidateConfig struct {
	ConfigPath string
}

type GenerateConfig struct {
	ConfigPath string
	Intent     string
	Sender     Sender
}

// Serve connects every configured server, keeps the merged catalog fresh,
// and exposes metrics and health until the context is canceled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	rt, err := a.buildRuntime(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.aggregator.Start(ctx)

	return telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
		Addr:     rt.config.Runtime.Observability.ListenAddress,
		Registry: rt.promRegistry,
		Healthz:  rt.healthCheck,
	}, a.logger)
}

// ValidateConfig parses and validates the config file without connecting.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	loader := config.NewLoader(a.logger)
	loaded, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration is valid",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(loaded.Servers)))
	return nil
}

// Generate runs one synthesis-and-repair cycle against the configured
// backends and returns the accepted workflow.
func (a *App) Generate(ctx context.Context, cfg GenerateConfig) (domain.CandidateArtifact, error) {
	rt, err := a.buildRuntime(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.CandidateArtifact{}, err
	}
	defer rt.Close()

	rt.aggregator.Rebuild(ctx)

	service, err := a.buildService(ctx, rt, cfg.Sender)
	if err != nil {
		return domain.CandidateArtifact{}, err
	}
	return service.GenerateAndApply(ctx, cfg.Intent)
}

// runtime holds the wired long-lived components.
type runtime struct {
	config       domain.Config
	promRegistry *prometheus.Registry
	metrics      domain.Metrics
	registry     *session.Registry
	aggregator   *aggregator.Aggregator
	store        *templates.Store
	library      *templates.Library
}

func (a *App) buildRuntime(ctx context.Context, configPath string) (*runtime, error) {
	loader := config.NewLoader(a.logger)
	cfg, err := loader.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	telemetry.RegisterBuildInfo(promRegistry)
	metrics := telemetry.NewPrometheusMetrics(promRegistry)

	transport := session.NewStreamableHTTPTransport(a.logger)
	registry := session.NewRegistry(transport, cfg.Runtime, metrics, a.logger)

	var store *templates.Store
	if cfg.Runtime.StorePath != "" {
		store, err = templates.OpenStore(cfg.Runtime.StorePath)
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("open exemplar store: %w", err)
		}
	}

	library, err := templates.NewLibrary(store, a.logger)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = registry.Close()
		return nil, err
	}
	if cfg.Runtime.TemplatesDir != "" {
		if err := library.LoadDir(cfg.Runtime.TemplatesDir); err != nil {
			a.logger.Warn("template directory load failed", zap.Error(err))
		}
		if err := library.Watch(ctx, cfg.Runtime.TemplatesDir); err != nil {
			a.logger.Warn("template directory watch failed", zap.Error(err))
		}
	}

	for _, spec := range cfg.Servers {
		if spec.Disabled {
			a.logger.Info("server disabled, skipping", zap.String("server", spec.ID))
			continue
		}
		if err := registry.AddServer(ctx, spec); err != nil {
			// Connection failures keep retrying in the background; only a
			// duplicate id or protocol mismatch is worth failing startup for.
			if code, ok := domain.CodeFrom(err); ok &&
				(code == domain.CodeAlreadyExists || code == domain.CodeFailedPrecond) {
				if store != nil {
					_ = store.Close()
				}
				_ = registry.Close()
				return nil, err
			}
			a.logger.Warn("server connection failed, will retry",
				zap.String("server", spec.ID), zap.Error(err))
		}
	}

	agg := aggregator.New(registry, cfg.Runtime.RefreshConcurrency, metrics, a.logger)

	return &runtime{
		config:       cfg,
		promRegistry: promRegistry,
		metrics:      metrics,
		registry:     registry,
		aggregator:   agg,
		store:        store,
		library:      library,
	}, nil
}

func (a *App) buildService(ctx context.Context, rt *runtime, sender Sender) (*Service, error) {
	completer, err := synthesis.NewCompleter(ctx, rt.config.Runtime.Synthesis, rt.metrics)
	if err != nil {
		return nil, err
	}
	engine := synthesis.NewEngine(completer, rt.library, domain.DefaultTemplateLimit, a.logger)
	runner := loop.NewRunner(engine, rt.aggregator, rt.library,
		rt.config.Runtime.SubmitTool, rt.config.Runtime.MaxAttempts, rt.metrics, a.logger)
	return NewService(runner, sender, a.logger), nil
}

func (rt *runtime) healthCheck() error {
	infos := rt.registry.Sessions()
	if len(infos) == 0 {
		return nil
	}
	connected := 0
	for _, info := range infos {
		if info.State == domain.SessionReady || info.State == domain.SessionInvoking {
			connected++
		}
	}
	if connected == 0 {
		return fmt.Errorf("no connected servers (%d configured)", len(infos))
	}
	return nil
}

func (rt *runtime) Close() {
	_ = rt.registry.Close()
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

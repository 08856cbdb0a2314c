package server

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/config"
	"github.com/Tsinling0525/rivulet-gen/engine"
	"github.com/Tsinling0525/rivulet-gen/infra"
	"github.com/Tsinling0525/rivulet-gen/model"
	_ "github.com/Tsinling0525/rivulet-gen/nodes"
	"github.com/Tsinling0525/rivulet-gen/plugin"
	"github.com/Tsinling0525/rivulet-gen/ratelimit"
)

// App wires the configured services together.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Client       *engine.Client
	Orchestrator *engine.Orchestrator
	Files        plugin.FileStore
	Jobs         *infra.JobManager
	Registry     *prometheus.Registry

	// Preview is nil when the configured provider could not be initialized.
	Preview    plugin.Provider
	PreviewErr error
}

// NewApp builds the services described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	engine.InitMetrics(registry)
	ratelimit.InitMetrics(registry)

	ec := cfg.Engine
	opts := []engine.ClientOption{
		engine.WithLogger(logger.With(zap.String("component", "engine"))),
		engine.WithAPIPrefix(ec.APIPrefix),
		engine.WithTimeouts(ec.UploadTimeout, ec.RequestTimeout, ec.FetchTimeout),
	}
	if ec.APIKey != "" {
		opts = append(opts, engine.WithAPIKey(ec.APIKey))
	}
	client := engine.NewClient(ec.BaseURL, opts...)
	poller := engine.NewPoller(client,
		engine.WithPollInterval(ec.PollInterval),
		engine.WithPollTimeout(ec.PollTimeout))
	orch := engine.NewOrchestrator(client, engine.Workflow{
		Template:     cfg.Workflow.Template,
		ImageNode:    model.ID(cfg.Workflow.ImageNode),
		PromptNode:   model.ID(cfg.Workflow.PromptNode),
		SamplerClass: cfg.Workflow.SamplerClass,
	}, engine.WithPoller(poller), engine.WithWebsocket(ec.UseWebsocket, nil))

	var files plugin.FileStore
	switch cfg.Storage.Backend {
	case "mem":
		files = infra.NewMemFiles()
	default:
		files = infra.NewLocalFiles(cfg.Storage.Dir)
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		Client:       client,
		Orchestrator: orch,
		Files:        files,
		Jobs:         infra.NewJobManager(orch, files, cfg.Jobs.MaxConcurrent, logger.With(zap.String("component", "jobs"))),
		Registry:     registry,
	}
	app.Preview, app.PreviewErr = newPreview(ctx, cfg.Preview, logger)
	if app.PreviewErr != nil {
		logger.Warn("preview provider unavailable", zap.String("provider", cfg.Preview.Provider), zap.Error(app.PreviewErr))
	}
	return app, nil
}

func newPreview(ctx context.Context, pc config.PreviewConfig, logger *zap.Logger) (plugin.Provider, error) {
	p, ok := plugin.New(pc.Provider)
	if !ok {
		return nil, errors.Errorf("unknown preview provider %q (have %v)", pc.Provider, plugin.Names())
	}
	logger = logger.With(zap.String("component", "preview"), zap.String("provider", pc.Provider))
	caller := ratelimit.New(
		ratelimit.WithName(pc.Provider),
		ratelimit.WithMaxAttempts(pc.MaxAttempts),
		ratelimit.WithCallTimeout(pc.RequestTimeout),
		ratelimit.WithRateLimit(pc.RatePerSecond, pc.Burst),
		ratelimit.WithLogger(logger))
	err := p.Init(ctx, plugin.Config{
		Model:       pc.Model,
		Endpoint:    pc.Endpoint,
		APIKey:      pc.APIKey,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
	}, plugin.Deps{Logger: logger, Caller: caller})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Close stops background jobs.
func (a *App) Close(ctx context.Context) error {
	return a.Jobs.Close(ctx)
}

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mu-semtech/delta-notifier/config"
	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/dispatch"
	"github.com/mu-semtech/delta-notifier/gateway/http"
	"github.com/mu-semtech/delta-notifier/graph/sparql"
	"github.com/mu-semtech/delta-notifier/health"
	"github.com/mu-semtech/delta-notifier/input/natsfeed"
	"github.com/mu-semtech/delta-notifier/match"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/natsclient"
	"github.com/mu-semtech/delta-notifier/origin"
	"github.com/mu-semtech/delta-notifier/pipeline"
	"github.com/mu-semtech/delta-notifier/rule"
)

const prunePeriod = time.Minute

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("Starting delta-notifier",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)
	if cfg.Debug.LogConfig {
		logger.Info("Server configuration", "config", cfg.String())
	}

	rules, err := rule.LoadFile(cfg.RulesFile, cfg.Defaults.RuleDefaults(), logger)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	logger.Info("Rules loaded", "path", cfg.RulesFile, "count", len(rules))

	if cli.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	app, err := newApp(cfg, rules, logger)
	if err != nil {
		return err
	}
	if err := app.start(signalCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return stderrors.Join(err, app.shutdown(shutdownCtx))
	}
	logger.Info("delta-notifier started", "addr", cfg.Server.Addr)

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("delta-notifier shutdown complete")
	return nil
}

// loadConfig layers the optional file and the environment over the defaults
// and applies command-line overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.RulesFile != "" {
		cfg.RulesFile = cli.RulesFile
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app holds the running components in start order.
type app struct {
	logger   *slog.Logger
	notifier *pipeline.Notifier
	gateway  *http.Gateway
	nats     *natsclient.Client
	feed     *natsfeed.Feed
	log      *health.Log
	cancel   context.CancelFunc
}

func newApp(cfg *config.Config, rules []*rule.Rule, logger *slog.Logger) (*app, error) {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	monitor := health.NewMonitor()

	failureLog, err := health.NewLog(health.LogConfig{
		Window:     cfg.Health.Window,
		MaxEntries: cfg.Health.MaxFailures,
		Registry:   registry,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create failure log: %w", err)
	}

	a := &app{logger: logger, log: failureLog}
	observers := []dispatch.Observer{failureLog}

	var query match.QueryService
	if cfg.SPARQL.Endpoint != "" {
		client, err := sparql.NewClient(sparql.Config{
			Endpoint: cfg.SPARQL.Endpoint,
			Timeout:  cfg.SPARQL.Timeout,
			Headers:  cfg.SPARQL.Headers,
			MaxQPS:   cfg.SPARQL.MaxQPS,
			Burst:    cfg.SPARQL.Burst,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create SPARQL client: %w", err)
		}
		query = client
	} else {
		logger.Info("No SPARQL endpoint, conjunctive rules match within the batch only")
	}

	if cfg.NATS.Enabled() {
		client, err := natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(metrics),
			natsclient.WithName(cfg.NATS.Name),
			natsclient.WithAuth(cfg.NATS.User, cfg.NATS.Password, cfg.NATS.Token),
			natsclient.WithReconnect(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait),
			natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
			natsclient.WithMessageTimeout(cfg.NATS.MessageTimeout),
			natsclient.WithHealthChangeCallback(monitor.ConnectionCallback("nats")))
		if err != nil {
			return nil, fmt.Errorf("create NATS client: %w", err)
		}
		a.nats = client
		monitor.Update("nats", health.Failing("nats", "connecting"))

		if cfg.NATS.FailureSubject != "" {
			publisher, err := natsfeed.NewFailurePublisher(cfg.NATS.FailureSubject, client, logger, metrics)
			if err != nil {
				return nil, fmt.Errorf("create failure publisher: %w", err)
			}
			observers = append(observers, publisher)
		}
	}

	notifier, err := pipeline.New(pipeline.Config{
		Rules: rules,
		Query: query,
		Budget: match.Budget{
			MaxRounds:   cfg.Match.MaxRounds,
			MaxBranches: cfg.Match.MaxBranches,
			Timeout:     cfg.Match.Timeout,
		},
		Resolver: origin.NewCachingResolver(origin.NetResolver{}, origin.CacheConfig{
			Size: cfg.Resolver.CacheSize,
			TTL:  cfg.Resolver.CacheTTL,
		}, logger),
		Normalizer:      delta.Normalizer{DateTime: cfg.NormalizeDatetime},
		Workers:         cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
		RuleConcurrency: cfg.Workers.RuleConcurrency,
		Observers:       observers,
		Debug: pipeline.Debug{
			Match: cfg.Debug.Match,
			Fold:  cfg.Debug.Fold,
			Send:  cfg.Debug.Send,
		},
	}, logger, registry)
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	a.notifier = notifier

	gateway, err := http.NewGateway(http.Config{
		Addr:            cfg.Server.Addr,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		LogRequests:     cfg.Debug.LogRequests,
	}, http.Deps{
		Submitter: notifier,
		Checker:   health.NewChecker(failureLog, monitor),
		Registry:  registry,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	a.gateway = gateway

	if a.nats != nil {
		feed, err := natsfeed.NewFeed(cfg.NATS.Subject, natsfeed.Deps{
			Client:      a.nats,
			Submitter:   notifier,
			Logger:      logger,
			Metrics:     metrics,
			LogRequests: cfg.Debug.LogRequests,
		})
		if err != nil {
			return nil, fmt.Errorf("create NATS feed: %w", err)
		}
		a.feed = feed
	}

	return a, nil
}

func (a *app) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.log.Run(runCtx, prunePeriod)

	if err := a.notifier.Start(); err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}

	if a.nats != nil {
		if err := a.nats.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		if err := a.feed.Start(runCtx); err != nil {
			return fmt.Errorf("start NATS feed: %w", err)
		}
	}

	if err := a.gateway.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	return nil
}

// shutdown stops HTTP intake first so queued and bundled change-sets still go
// out. Batches arriving over NATS meanwhile are rejected by the stopped pool.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.gateway.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.notifier.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	// NATS closes last so failures of the final deliveries are still published.
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	return stderrors.Join(errs...)
}

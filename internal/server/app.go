// Package server assembles the application's dependencies and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/api"
	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	"github.com/missatjuhvdk1/snapbot/internal/clock/system"
	"github.com/missatjuhvdk1/snapbot/internal/config"
	chromedriver "github.com/missatjuhvdk1/snapbot/internal/driver/chromedp"
	"github.com/missatjuhvdk1/snapbot/internal/events"
	eventsinks "github.com/missatjuhvdk1/snapbot/internal/events/sinks"
	"github.com/missatjuhvdk1/snapbot/internal/executor"
	"github.com/missatjuhvdk1/snapbot/internal/id/uuid"
	"github.com/missatjuhvdk1/snapbot/internal/metrics"
	"github.com/missatjuhvdk1/snapbot/internal/pipeline"
	"github.com/missatjuhvdk1/snapbot/internal/pool"
	"github.com/missatjuhvdk1/snapbot/internal/proxycheck"
	memorypublisher "github.com/missatjuhvdk1/snapbot/internal/publisher/memory"
	gcppublisher "github.com/missatjuhvdk1/snapbot/internal/publisher/pubsub"
	amqpqueue "github.com/missatjuhvdk1/snapbot/internal/queue/amqp"
	memoryqueue "github.com/missatjuhvdk1/snapbot/internal/queue/memory"
	"github.com/missatjuhvdk1/snapbot/internal/ratelimit"
	"github.com/missatjuhvdk1/snapbot/internal/session"
	gcssnapshots "github.com/missatjuhvdk1/snapbot/internal/snapshots/gcs"
	localsnapshots "github.com/missatjuhvdk1/snapbot/internal/snapshots/local"
	memorysnapshots "github.com/missatjuhvdk1/snapbot/internal/snapshots/memory"
	memorystore "github.com/missatjuhvdk1/snapbot/internal/store/memory"
	pgstore "github.com/missatjuhvdk1/snapbot/internal/store/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     autopost.Store
	queue     autopost.Queue
	apiServer *api.Server
	pool      *pool.Pool
	hub       *events.Hub

	memQueue      *memoryqueue.Queue
	amqpQueue     *amqpqueue.Queue
	pubsubClient  *pubsub.Client
	storageClient *storage.Client
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	metrics.Init()

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}
	if err := app.setupQueue(); err != nil {
		return nil, err
	}
	snapshots, err := app.setupSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	app.setupHub(publisher)

	clock := system.New()

	var checker session.ProxyChecker
	if cfg.ProxyCheck.Enabled {
		checker = proxycheck.New(proxycheck.Config{
			CheckURL: cfg.ProxyCheck.URL,
			Timeout:  time.Duration(cfg.ProxyCheck.TimeoutSeconds) * time.Second,
		})
	}
	sessions := session.NewManager(session.Config{
		Headless:  cfg.Browser.Headless,
		Preflight: cfg.ProxyCheck.Enabled,
	}, chromedriver.New(), checker, logger.Named("session"))

	pipe := pipeline.New(pipeline.Config{
		LoginURL:        cfg.Platform.LoginURL,
		UploadURL:       cfg.Platform.UploadURL,
		LoginPathMarker: cfg.Platform.LoginPathMarker,
		NavTimeout:      cfg.NavTimeout(),
		ElementTimeout:  cfg.ElementTimeout(),
	}, snapshots, clock, logger.Named("pipeline"))

	exec := executor.New(app.store, sessions, pipe, clock, logger.Named("executor"))

	var gate *ratelimit.AccountGate
	if cfg.RateLimit.MinPostIntervalSeconds > 0 {
		gate = ratelimit.NewAccountGate(time.Duration(cfg.RateLimit.MinPostIntervalSeconds) * time.Second)
	}
	app.pool = pool.New(pool.Config{
		MaxConcurrentJobs: cfg.Pool.MaxConcurrentJobs,
		ShutdownGrace:     cfg.ShutdownGrace(),
		DeferBackoff:      time.Duration(cfg.Pool.DeferBackoffMs) * time.Millisecond,
	}, app.queue, exec, gate, app.hub, clock, logger.Named("pool"))

	app.apiServer = api.NewServer(app.store, app.queue, uuid.New(), clock, logger.Named("api"))

	return app, nil
}

// Run starts the pool and HTTP server, blocking until the context is
// canceled, then shuts everything down in dependency order.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	stopPool := a.pool.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace()+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	stopPool()

	return a.Close(shutdownCtx)
}

// Close releases infrastructure in reverse dependency order: event hub last
// consumers first, then queue, publisher clients, and finally the store.
func (a *App) Close(ctx context.Context) error {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.amqpQueue != nil {
		if err := a.amqpQueue.Close(); err != nil {
			a.logger.Warn("amqp queue close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.Store.DSN})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres store")
	default:
		a.store = memorystore.NewStore()
		a.logger.Info("using in-memory store")
	}
	return nil
}

func (a *App) setupQueue() error {
	switch a.cfg.Queue.Provider {
	case "amqp":
		queue, err := amqpqueue.New(amqpqueue.Config{
			URL:      a.cfg.Queue.URL,
			Name:     a.cfg.Queue.Name,
			Prefetch: a.cfg.Queue.Prefetch,
		}, a.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("amqp queue init failed: %w", err)
		}
		a.amqpQueue = queue
		a.queue = queue
		a.logger.Info("using amqp queue", zap.String("name", a.cfg.Queue.Name))
	default:
		a.memQueue = memoryqueue.NewQueue(a.cfg.Queue.Depth)
		a.queue = a.memQueue
		a.logger.Info("using in-memory queue", zap.Int("depth", a.cfg.Queue.Depth))
	}
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) (autopost.SnapshotStore, error) {
	switch a.cfg.Snapshots.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		store, err := gcssnapshots.New(client, gcssnapshots.Config{
			Bucket: a.cfg.Snapshots.Bucket,
			Prefix: a.cfg.Snapshots.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot store", zap.String("bucket", a.cfg.Snapshots.Bucket))
		return store, nil
	case "memory":
		return memorysnapshots.New(), nil
	default:
		store, err := localsnapshots.New(localsnapshots.Config{BaseDir: a.cfg.Snapshots.Dir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		a.logger.Info("using local snapshot store", zap.String("dir", a.cfg.Snapshots.Dir))
		return store, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (autopost.Publisher, error) {
	if a.cfg.Publisher.Provider != "pubsub" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Publisher.ProjectID),
		zap.String("topic", a.cfg.Publisher.Topic))
	return gcppublisher.New(client.Topic(a.cfg.Publisher.Topic)), nil
}

func (a *App) setupHub(publisher autopost.Publisher) {
	promSink, err := eventsinks.NewPrometheusSink(nil)
	sinks := []events.Sink{
		eventsinks.NewLogSink(a.logger.Named("events")),
		eventsinks.NewPublisherSink(publisher, a.cfg.Publisher.Topic, a.logger.Named("events")),
	}
	if err != nil {
		a.logger.Warn("lifecycle metrics sink unavailable", zap.Error(err))
	} else {
		sinks = append(sinks, promSink)
	}
	a.hub = events.NewHub(events.Config{Logger: a.logger.Named("events")}, sinks...)
}

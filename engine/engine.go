package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/archive"
	audithook "github.com/zendesk/samson-sub001/audit_hook"
	"github.com/zendesk/samson-sub001/deploy"
	"github.com/zendesk/samson-sub001/execution"
	"github.com/zendesk/samson-sub001/ext"
	"github.com/zendesk/samson-sub001/lock"
	mw "github.com/zendesk/samson-sub001/middleware"
	"github.com/zendesk/samson-sub001/observability"
	"github.com/zendesk/samson-sub001/store"
	"github.com/zendesk/samson-sub001/store/memory"
	redisstore "github.com/zendesk/samson-sub001/store/redis"
	"github.com/zendesk/samson-sub001/stream"
)

const instrumentationName = "github.com/zendesk/samson-sub001"

// Engine holds every long-lived component of the process.
type Engine struct {
	cfg    samson.Config
	logger *slog.Logger

	store       store.Store
	lockBackend lock.Backend
	redis       *goredis.Client

	locks      *lock.MultiLock
	extensions *ext.Registry
	scheduler  *execution.Scheduler
	deploys    *deploy.Service
	broker     *stream.Broker
	streamer   *stream.Streamer
	archiver   *archive.Archiver

	mws            []mw.Middleware
	pendingExts    []ext.Extension
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware adds middleware inside the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithStore overrides the store chosen from the configuration.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithLockBackend overrides the lock backend chosen from the configuration.
func WithLockBackend(b lock.Backend) Option {
	return func(eng *Engine) { eng.lockBackend = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build validates cfg and wires the engine. With cfg.Redis.Addr set, jobs,
// deploys and locks live in Redis; otherwise in memory.
func Build(cfg samson.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng := &Engine{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(eng)
	}
	logger := eng.logger

	var rs *redisstore.Store
	if cfg.Redis.Addr != "" && (eng.store == nil || eng.lockBackend == nil) {
		eng.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs = redisstore.New(eng.redis,
			redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redisstore.WithLogger(logger),
		)
	}
	if eng.store == nil {
		if rs != nil {
			eng.store = rs
		} else {
			eng.store = memory.New()
		}
	}
	if eng.lockBackend == nil {
		if rs != nil {
			eng.lockBackend = rs
		} else {
			eng.lockBackend = lock.NewMemory()
		}
	}

	lockOpts := []lock.Option{lock.WithLogger(logger)}
	if cfg.LockTimeout > 0 {
		lockOpts = append(lockOpts, lock.WithDefaultTimeout(cfg.LockTimeout))
	}
	if cfg.LockTTL > 0 {
		lockOpts = append(lockOpts, lock.WithTTL(cfg.LockTTL))
	}
	eng.locks = lock.New(eng.lockBackend, lockOpts...)

	eng.extensions = ext.NewRegistry(logger)
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	if cfg.Archive.Endpoint != "" {
		a, err := archive.New(cfg.Archive, archive.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		eng.archiver = a
		eng.extensions.Register(a)
	}
	if cfg.Audit {
		eng.extensions.Register(audithook.New(audithook.LogRecorder(logger.WithGroup("audit")),
			audithook.WithLogger(logger),
		))
	}
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	var tracingMw, metricsMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}
	chain := append([]mw.Middleware{
		mw.Logging(logger),
		mw.Recover(logger),
		tracingMw,
		metricsMw,
	}, eng.mws...)

	eng.scheduler = execution.NewScheduler(eng.store, eng.locks,
		execution.WithLogger(logger),
		execution.WithExtensions(eng.extensions),
		execution.WithMiddleware(chain...),
		execution.WithCacheDir(cfg.CacheDir),
		execution.WithWorkspaceDir(cfg.WorkspaceDir),
		execution.WithGracePeriod(cfg.CancelGracePeriod),
		execution.WithLockTimeout(cfg.LockTimeout),
		execution.WithJobTimeout(cfg.JobTimeout),
		execution.WithHookTimeout(cfg.HookTimeout),
		execution.WithPersistRate(cfg.OutputPersistRate),
		execution.WithOutputBacklog(cfg.OutputBacklog),
		execution.WithVerbose(cfg.Verbose),
		execution.WithPTY(cfg.PTY),
	)

	eng.deploys = deploy.NewService(eng.store, eng.store, eng.scheduler,
		deploy.ProjectsFromConfig(cfg.Projects),
		deploy.WithBuddyCheck(deploy.BuddyCheckFromConfig(cfg.BuddyCheck)),
		deploy.WithServiceLogger(logger),
	)
	eng.streamer = stream.NewStreamer(stream.WithStreamLogger(logger))

	return eng, nil
}

// Start checks the backends.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("samson: store unavailable: %w", err)
	}
	if eng.archiver != nil {
		if err := eng.archiver.EnsureBucket(ctx); err != nil {
			eng.logger.Warn("job log archive unavailable", slog.String("error", err.Error()))
		}
	}
	eng.logger.Info("engine started",
		slog.Int("projects", len(eng.cfg.Projects)),
		slog.Bool("redis", eng.redis != nil),
		slog.Bool("archive", eng.archiver != nil),
	)
	return nil
}

// Stop stops every execution, waits for them and releases the backends.
// Call it after the restart handler drained the scheduler for a clean
// shutdown; anything still running is cancelled.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.scheduler.SetEnabled(false)
	eng.scheduler.CancelQueued(ctx, "Server shutting down, job was cancelled before it started.")
	for _, e := range eng.scheduler.Active() {
		_ = e.Stop(ctx)
	}
	waitErr := eng.scheduler.Wait(ctx)

	eng.extensions.EmitShutdown(ctx)

	var errs []error
	if waitErr != nil {
		errs = append(errs, fmt.Errorf("wait for executions: %w", waitErr))
	}
	if err := eng.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if eng.redis != nil {
		if err := eng.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the engine was built from.
func (eng *Engine) Config() samson.Config { return eng.cfg }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Store returns the job and deploy store.
func (eng *Engine) Store() store.Store { return eng.store }

// Locks returns the repository lock.
func (eng *Engine) Locks() *lock.MultiLock { return eng.locks }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Scheduler returns the execution scheduler.
func (eng *Engine) Scheduler() *execution.Scheduler { return eng.scheduler }

// Deploys returns the deploy service.
func (eng *Engine) Deploys() *deploy.Service { return eng.deploys }

// Broker returns the lifecycle event broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Streamer returns the job output streamer.
func (eng *Engine) Streamer() *stream.Streamer { return eng.streamer }

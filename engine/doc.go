// Package engine wires the execution engine together: the job and deploy
// store, the repository lock, the extension registry with the event broker
// and metrics, the middleware chain, the scheduler and the deploy service.
//
// The engine package sits above every subsystem package and below the
// binary and the HTTP surface, which only talk to an *Engine.
//
// # Building an Engine
//
//	cfg, err := samson.LoadConfig("samson.yml")
//	eng, err := engine.Build(cfg,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// # Backends
//
// Without a Redis address jobs, deploys and locks are kept in memory, which
// serializes repository access within one process. With cfg.Redis.Addr set
// all three move to Redis and every process sharing it takes the same
// project locks.
//
// # Options
//
//   - [WithLogger] sets the logger
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the run chain
//   - [WithStore] and [WithLockBackend] override the configured backends
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine

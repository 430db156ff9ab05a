// Package samson is the job and deploy execution engine of a continuous
// deployment service. It serializes deploy requests per stage, runs the
// checkout and the configured shell commands of each job in a supervised
// subprocess, and streams live output to any number of viewers.
//
// The engine is a library. The surrounding application owns projects,
// stages and job persistence; it hands jobs to an execution.Scheduler and
// observes them through output buffers and lifecycle extensions.
//
// # Quick Start
//
//	cfg, err := samson.LoadConfig("samson.yml")
//	eng, err := engine.Build(cfg, engine.WithLogger(logger))
//	d, err := eng.Deploys().Deploy(ctx, deploy.Request{
//	    Stage:     stage,
//	    Reference: "main",
//	    User:      "alice",
//	})
//
// # Architecture
//
// Each subsystem lives in its own package: output (replaying broadcast
// buffer), terminal (subprocess executor and carriage-return aware
// scanner), queue (per-key FIFO admission), lock (advisory locks with
// memory and Redis backends), git (mirror cache and workspaces),
// execution (job lifecycle and scheduler), deploy (buddy check policy),
// stream (viewers, live streaming, lifecycle broker) and restart
// (graceful drain on signal). The engine package wires them together.
package samson

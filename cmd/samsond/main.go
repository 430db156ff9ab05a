// samsond runs the job and deploy execution engine behind its HTTP API.
//
// Usage:
//
//	samsond -config samson.yaml
//
// SIGUSR1 or SIGTERM stops new jobs from starting, waits for running jobs
// to finish, cancels whatever is still queued and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/api"
	"github.com/zendesk/samson-sub001/engine"
	"github.com/zendesk/samson-sub001/restart"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "samson.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "samsond: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := samson.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	eng, err := engine.Build(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(eng).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	handler := restart.New(eng.Scheduler(),
		restart.WithPollInterval(cfg.ShutdownPollInterval),
		restart.WithLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := handler.Listen(gctx)

		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("http server shutdown", slog.String("error", serr.Error()))
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	werr := g.Wait()

	stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Error("engine stop", slog.String("error", err.Error()))
	}
	logger.Info("samsond exited", slog.String("state", handler.State().String()))
	return werr
}

func newLogger(cfg samson.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

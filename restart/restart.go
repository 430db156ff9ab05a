// Package restart drains the scheduler before the process is replaced.
//
// On the restart signal the Handler stops new executions from starting,
// waits for the running ones to finish, cancels whatever is still queued and
// then hands control back (usually so the HTTP server can shut down).
// Queued jobs do not survive a restart; they end cancelled with a line in
// their output explaining why.
package restart

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// CancelReason is written to the output of queued jobs cancelled by a drain.
const CancelReason = "Server restarting, job was cancelled before it started."

// DefaultPollInterval is how often the active job count is checked.
const DefaultPollInterval = time.Second

// Scheduler is the part of execution.Scheduler a drain needs.
type Scheduler interface {
	SetEnabled(enabled bool)
	ActiveCount() int
	CancelQueued(ctx context.Context, reason string) int
}

// State is the lifecycle of a Handler.
type State int32

const (
	StateListening State = iota
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// Handler waits for a restart signal and drains the scheduler.
type Handler struct {
	sched     Scheduler
	signals   []os.Signal
	interval  time.Duration
	onDrained func()
	logger    *slog.Logger

	state atomic.Int32
}

// Option configures a Handler.
type Option func(*Handler)

// WithSignals sets the signals that trigger a drain. Defaults to SIGUSR1
// and SIGTERM.
func WithSignals(sigs ...os.Signal) Option {
	return func(h *Handler) { h.signals = sigs }
}

// WithPollInterval sets how often the active count is checked.
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.interval = d
		}
	}
}

// OnDrained sets fn to run once the scheduler is idle.
func OnDrained(fn func()) Option {
	return func(h *Handler) { h.onDrained = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a Handler for sched.
func New(sched Scheduler, opts ...Option) *Handler {
	h := &Handler{
		sched:    sched,
		signals:  []os.Signal{syscall.SIGUSR1, syscall.SIGTERM},
		interval: DefaultPollInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current state.
func (h *Handler) State() State { return State(h.state.Load()) }

// Listen blocks until a restart signal arrives, then drains. It returns
// ctx's error if ctx ends first.
func (h *Handler) Listen(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, h.signals...)
	defer signal.Stop(ch)

	h.logger.Info("restart handler listening", slog.Any("signals", h.signals))
	select {
	case sig := <-ch:
		h.logger.Warn("restart signal received", slog.String("signal", sig.String()))
		return h.Drain(ctx)
	case <-ctx.Done():
		h.state.Store(int32(StateExited))
		return ctx.Err()
	}
}

// Drain disables the scheduler, waits for active executions and cancels
// queued ones.
func (h *Handler) Drain(ctx context.Context) error {
	h.state.Store(int32(StateDraining))
	defer h.state.Store(int32(StateExited))

	h.sched.SetEnabled(false)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		n := h.sched.ActiveCount()
		if n == 0 {
			break
		}
		h.logger.Info("waiting for active jobs", slog.Int("active", n))
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n := h.sched.CancelQueued(ctx, CancelReason); n > 0 {
		h.logger.Warn("cancelled queued jobs for restart", slog.Int("count", n))
	}
	h.logger.Info("scheduler drained")
	if h.onDrained != nil {
		h.onDrained()
	}
	return nil
}

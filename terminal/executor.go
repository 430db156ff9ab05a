package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// DefaultGracePeriod is how long a process group gets after a graceful stop
// signal before it is killed.
const DefaultGracePeriod = 10 * time.Second

// Executor runs a list of commands in a single shell, streaming combined
// stdout and stderr to a writer. An Executor serves one job; once stopped it
// refuses to run anything else.
type Executor struct {
	out     io.Writer
	dir     string
	env     []string
	verbose bool
	usePTY  bool
	grace   time.Duration
	shell   string
	logger  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithDir sets the working directory of the shell.
func WithDir(dir string) Option {
	return func(e *Executor) { e.dir = dir }
}

// WithEnv adds KEY=VALUE entries on top of the current process environment.
func WithEnv(env ...string) Option {
	return func(e *Executor) { e.env = append(e.env, env...) }
}

// WithVerbose echoes each command before it runs.
func WithVerbose(v bool) Option {
	return func(e *Executor) { e.verbose = v }
}

// WithPTY runs the shell attached to a pseudo-terminal, so commands that
// check for a tty emit progress output.
func WithPTY(v bool) Option {
	return func(e *Executor) { e.usePTY = v }
}

// WithGracePeriod sets the delay between a graceful stop signal and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// WithShell overrides the shell binary. Defaults to /bin/sh.
func WithShell(path string) Option {
	return func(e *Executor) { e.shell = path }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor writing to out.
func NewExecutor(out io.Writer, opts ...Option) *Executor {
	e := &Executor{
		out:    out,
		grace:  DefaultGracePeriod,
		shell:  "/bin/sh",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs commands in order and reports whether all of them exited
// zero. The first failing command ends the run and a line naming it is
// written to the output. Cancelling ctx stops the process group. A stopped
// Executor returns false without error.
func (e *Executor) Execute(ctx context.Context, commands ...string) (bool, error) {
	if e.isStopped() {
		return false, nil
	}
	if e.dir != "" {
		if info, err := os.Stat(e.dir); err != nil {
			return false, fmt.Errorf("terminal: working directory: %w", err)
		} else if !info.IsDir() {
			return false, fmt.Errorf("terminal: working directory %s is not a directory", e.dir)
		}
	}

	cmd := exec.Command(e.shell, "-c", Script(commands, e.verbose))
	cmd.Dir = e.dir
	cmd.Env = append(os.Environ(), e.env...)

	var (
		stream io.ReadCloser
		err    error
	)
	if e.usePTY {
		stream, err = pty.Start(cmd)
	} else {
		stream, err = startPiped(cmd)
	}
	if err != nil {
		return false, fmt.Errorf("terminal: start shell: %w", err)
	}

	e.mu.Lock()
	e.cmd = cmd
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.Stop(syscall.SIGINT)
		case <-done:
		}
	}()

	copyOutput(e.out, stream)
	_ = stream.Close()
	waitErr := cmd.Wait()
	close(done)

	e.mu.Lock()
	e.cmd = nil
	stopped = e.stopped
	e.mu.Unlock()

	if stopped {
		return false, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("terminal: wait: %w", waitErr)
	}
	return true, nil
}

// PID returns the process id of the running shell, or 0 when idle.
func (e *Executor) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Stop signals the whole process group of the running shell and prevents
// further runs. Unless sig is SIGKILL, the group is killed if it is still
// running after the grace period.
func (e *Executor) Stop(sig syscall.Signal) {
	e.mu.Lock()
	e.stopped = true
	cmd := e.cmd
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	e.logger.Info("stopping command", slog.Int("pid", pid), slog.String("signal", sig.String()))
	signalGroup(pid, sig)

	if sig == syscall.SIGKILL || e.grace <= 0 {
		return
	}
	time.AfterFunc(e.grace, func() {
		e.mu.Lock()
		running := e.cmd == cmd
		e.mu.Unlock()
		if running {
			e.logger.Warn("command ignored stop signal, killing", slog.Int("pid", pid))
			signalGroup(pid, syscall.SIGKILL)
		}
	})
}

func (e *Executor) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func signalGroup(pid int, sig syscall.Signal) {
	_ = syscall.Kill(-pid, sig)
}

// startPiped starts cmd in its own process group with stdout and stderr
// merged into one pipe.
func startPiped(cmd *exec.Cmd) (io.ReadCloser, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, err
	}
	_ = w.Close()
	return r, nil
}

// copyOutput forwards chunks until EOF. A pty reports EIO once the child
// side closes, which is treated as EOF.
func copyOutput(dst io.Writer, src io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			_, _ = dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

const failedCommandVar = "__samson_cmd"

// Script builds the shell program that runs commands with errexit and
// reports the failing one on exit.
func Script(commands []string, verbose bool) string {
	var sb strings.Builder
	sb.WriteString("set -e\n")
	fmt.Fprintf(&sb, "%s=''\n", failedCommandVar)
	fmt.Fprintf(&sb,
		"trap '__samson_status=$?; if [ $__samson_status -ne 0 ]; then printf \"command failed with status %%s: %%s\\n\" \"$__samson_status\" \"$%s\"; fi' EXIT\n",
		failedCommandVar)
	for _, c := range commands {
		fmt.Fprintf(&sb, "%s=%s\n", failedCommandVar, Quote(c))
		if verbose {
			fmt.Fprintf(&sb, "printf '%%s\\n' %s\n", Quote("» "+c))
		}
		sb.WriteString(c)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Quote wraps s in single quotes for the shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

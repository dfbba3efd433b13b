package tshark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
)

// DefaultStderrLimit bounds the diagnostic output kept per process.
const DefaultStderrLimit = 64 << 10

// maxAuxOutput bounds the output of listing commands (-D, -G, -v).
const maxAuxOutput = 8 << 20

// Runner spawns tshark processes. It is safe for concurrent use; every call
// owns its own process.
type Runner struct {
	path        string
	stderrLimit int
	waitDelay   time.Duration
	registry    *Registry
	lg          *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStderrLimit sets how many bytes of stderr are kept per process.
func WithStderrLimit(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.stderrLimit = n
		}
	}
}

// WithRegistry records running processes in reg.
func WithRegistry(reg *Registry) Option {
	return func(r *Runner) {
		r.registry = reg
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(r *Runner) {
		if lg != nil {
			r.lg = lg
		}
	}
}

// NewRunner returns a runner for the tshark binary at path.
func NewRunner(path string, opts ...Option) *Runner {
	r := &Runner{
		path:        path,
		stderrLimit: DefaultStderrLimit,
		waitDelay:   2 * time.Second,
		registry:    NewRegistry(),
		lg:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the tshark binary path.
func (r *Runner) Path() string {
	return r.path
}

// Registry returns the registry of running processes.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Stream runs tshark with args and hands its standard output to fn. When fn
// returns without error the rest of the output is discarded and the process
// is allowed to exit on its own; tshark's -c and -a options bound how long
// that takes. When fn fails, or ctx is done, the process is killed. The
// process is always reaped before Stream returns, and stderr is kept in a
// buffer of at most the configured limit.
//
// Errors: a missing binary is external_tool_not_found, an expired ctx is
// capture_timeout, and a non-zero exit is classified from stderr. An error
// from fn is returned as is.
func (r *Runner) Stream(ctx context.Context, args []string, fn func(io.Reader) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	stderr := newLimitedBuffer(r.stderrLimit)
	cmd := exec.CommandContext(runCtx, r.path, args...)
	cmd.Stdout = pw
	cmd.Stderr = stderr
	cmd.WaitDelay = r.waitDelay
	if err := cmd.Start(); err != nil {
		return startError(r.path, err)
	}

	proc := r.registry.Register(ctx, cmd.Process.Pid, args, cancel)
	defer r.registry.Unregister(proc)
	r.lg.DebugContext(ctx, "tshark started", "pid", proc.PID, "args", args)

	var (
		g       errgroup.Group
		waitErr error
		fnErr   error
	)
	g.Go(func() error {
		waitErr = cmd.Wait()
		// all output has been copied into the pipe once Wait returns
		pw.Close()
		return nil
	})
	g.Go(func() error {
		if fnErr = fn(pr); fnErr != nil {
			cancel()
		}
		// let the process finish writing
		_, err := io.Copy(io.Discard, pr)
		return err
	})
	_ = g.Wait()

	r.lg.DebugContext(ctx, "tshark exited", "pid", proc.PID, "elapsed", time.Since(proc.StartedAt), "err", waitErr)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindCaptureTimeout, ctx.Err(), "tshark did not finish in time")
	case ctx.Err() != nil:
		return fmt.Errorf("tshark: %w", ctx.Err())
	case fnErr != nil:
		return fnErr
	case waitErr != nil:
		return exitError(args, waitErr, stderr.String())
	}
	return nil
}

// Output runs tshark with args and returns its complete standard output.
func (r *Runner) Output(ctx context.Context, args ...string) ([]byte, error) {
	var out []byte
	err := r.Stream(ctx, args, func(rd io.Reader) error {
		var err error
		out, err = io.ReadAll(io.LimitReader(rd, maxAuxOutput))
		return err
	})
	return out, err
}

// Interfaces lists the capture interfaces (tshark -D).
func (r *Runner) Interfaces(ctx context.Context) ([]Interface, error) {
	out, err := r.Output(ctx, "-D")
	if err != nil {
		return nil, err
	}
	return ParseInterfaces(out), nil
}

// Protocols lists the protocols tshark can dissect (tshark -G protocols).
func (r *Runner) Protocols(ctx context.Context) ([]Protocol, error) {
	out, err := r.Output(ctx, "-G", "protocols")
	if err != nil {
		return nil, err
	}
	return ParseProtocols(out), nil
}

// Version returns the first line of tshark -v.
func (r *Runner) Version(ctx context.Context) (string, error) {
	out, err := r.Output(ctx, "-v")
	if err != nil {
		return "", err
	}
	return ParseVersion(out), nil
}

func startError(path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return notFound(path)
	}
	if errors.Is(err, fs.ErrPermission) {
		return apperrors.Wrap(apperrors.KindExternalToolNotFound, err, "tshark at %q is not executable", path)
	}
	return apperrors.Wrap(apperrors.KindExternalToolFailure, err, "start tshark")
}

// exitError maps a failed tshark run to an error kind using its stderr.
func exitError(args []string, err error, stderr string) error {
	msg := firstLines(stderr, 3)
	if msg == "" {
		msg = err.Error()
	}
	kind, param := classifyStderr(args, stderr)
	e := apperrors.New(kind, "%s", msg)
	if kind == apperrors.KindExternalToolFailure {
		e = apperrors.Wrap(kind, err, "%s", msg)
	}
	if param != "" {
		e = e.WithParam(param)
	}
	return e
}

func classifyStderr(args []string, stderr string) (apperrors.Kind, string) {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "capture filter"):
		return apperrors.KindInvalidCaptureFilter, "filter"
	case hasFlag(args, "-Y") && isDisplayFilterError(s):
		return apperrors.KindInvalidDisplayFilter, "filter"
	case hasFlag(args, "-e") && (strings.Contains(s, "some fields aren't valid") ||
		strings.Contains(s, "isn't a valid field")):
		return apperrors.KindInvalidInput, "fields"
	case hasFlag(args, "-i") && (strings.Contains(s, "no such device") ||
		strings.Contains(s, "there is no interface") ||
		strings.Contains(s, "capture interface does not exist") ||
		strings.Contains(s, "doesn't exist")):
		return apperrors.KindInterfaceNotFound, "interface"
	case hasFlag(args, "-r") && (strings.Contains(s, "doesn't exist") ||
		strings.Contains(s, "isn't a capture file") ||
		strings.Contains(s, "permission denied") ||
		strings.Contains(s, "appears to have been cut short")):
		return apperrors.KindInvalidInput, "file_path"
	}
	return apperrors.KindExternalToolFailure, ""
}

func isDisplayFilterError(s string) bool {
	for _, marker := range []string{
		"neither a field nor a protocol name",
		"was unexpected in this context",
		"invalid filter",
		"display filter",
		"syntax error",
		"unexpected end of filter",
		"not a valid",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
type limitedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.dropped += len(p)
		return len(p), nil
	}
	if len(p) > room {
		b.dropped += len(p) - room
		b.buf.Write(p[:room])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.dropped > 0 {
		return fmt.Sprintf("%s\n[%d bytes of stderr dropped]", b.buf.String(), b.dropped)
	}
	return b.buf.String()
}

// Package analysis runs one bounded tshark invocation per request and
// shapes the decoded packets into summarized results.
package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jayimu/wireshark-mcp/internal/config"
	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
	"github.com/jayimu/wireshark-mcp/internal/tshark"
)

// Source runs the analyzer. *tshark.Runner is the production
// implementation.
type Source interface {
	Stream(ctx context.Context, args []string, fn func(io.Reader) error) error
	Interfaces(ctx context.Context) ([]tshark.Interface, error)
	Protocols(ctx context.Context) ([]tshark.Protocol, error)
}

// Options bound the work done per request.
type Options struct {
	MaxPackets       int // default window size
	MaxPacketsLimit  int
	TopN             int // default Top-N size
	DetailPackets    int // per-packet summaries included at most
	MaxResponseBytes int
	MaxConcurrent    int
	AnalysisTimeout  time.Duration
	CaptureGrace     time.Duration
	MaxDuration      time.Duration
	Logger           *slog.Logger
}

// OptionsFromConfig converts the configured limits.
func OptionsFromConfig(l config.LimitsConfig, lg *slog.Logger) Options {
	return Options{
		MaxPackets:       l.MaxPackets,
		MaxPacketsLimit:  l.MaxPacketsLimit,
		TopN:             l.TopN,
		DetailPackets:    l.DetailPackets,
		MaxResponseBytes: l.MaxResponseBytes,
		MaxConcurrent:    l.MaxConcurrent,
		AnalysisTimeout:  l.AnalysisTimeout,
		CaptureGrace:     l.CaptureGrace,
		MaxDuration:      l.MaxDuration,
		Logger:           lg,
	}
}

func (o Options) withDefaults() Options {
	d := config.Default().Limits
	if o.MaxPackets <= 0 {
		o.MaxPackets = d.MaxPackets
	}
	if o.MaxPacketsLimit <= 0 {
		o.MaxPacketsLimit = max(d.MaxPacketsLimit, o.MaxPackets)
	}
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.DetailPackets < 0 {
		o.DetailPackets = d.DetailPackets
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = d.MaxResponseBytes
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = d.MaxConcurrent
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = d.AnalysisTimeout
	}
	if o.CaptureGrace < 0 {
		o.CaptureGrace = d.CaptureGrace
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = d.MaxDuration
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Analyzer is the entry point of every tool call. It holds no per-request
// state; each call builds its own window.
type Analyzer struct {
	src  Source
	opts Options
	sem  *semaphore.Weighted
	lg   *slog.Logger
}

// New returns an analyzer reading from src.
func New(src Source, opts Options) *Analyzer {
	opts = opts.withDefaults()
	return &Analyzer{
		src:  src,
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		lg:   opts.Logger,
	}
}

// Options returns the effective options, including defaults.
func (a *Analyzer) Options() Options {
	return a.opts
}

// call tracks one request for logging.
type call struct {
	id    string
	tool  string
	start time.Time
	lg    *slog.Logger
}

func (a *Analyzer) begin(ctx context.Context, tool string, req any) (context.Context, *call) {
	c := &call{
		id:    uuid.NewString(),
		tool:  tool,
		start: time.Now(),
	}
	c.lg = a.lg.With("request_id", c.id, "tool", tool)
	c.lg.InfoContext(ctx, "request", "args", req)
	return tshark.WithRequestID(ctx, c.id), c
}

func (c *call) done(ctx context.Context, err error, attrs ...any) {
	attrs = append(attrs, "elapsed", time.Since(c.start).Round(time.Millisecond))
	if err != nil {
		attrs = append(attrs, "kind", apperrors.KindOf(err), "error", err)
		c.lg.WarnContext(ctx, "request failed", attrs...)
		return
	}
	c.lg.InfoContext(ctx, "request done", attrs...)
}

func (a *Analyzer) acquire(ctx context.Context) (func(), error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for analyzer slot: %w", err)
	}
	return func() { a.sem.Release(1) }, nil
}

// collect runs tshark with args and decodes at most limit packets. A
// timeout or a broken output stream after some packets were decoded is
// reported as a warning next to the partial window; with no packets it is
// an error.
func (a *Analyzer) collect(ctx context.Context, c *call, args []string, limit int, timeout time.Duration) (*packet.Window, []Warning, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w := packet.NewWindow(limit)
	var read countingReader
	err := a.src.Stream(ctx, args, func(r io.Reader) error {
		read.r = r
		dw, err := packet.Decode(&read, limit)
		if dw != nil {
			w = dw
		}
		return err
	})
	c.lg.DebugContext(ctx, "decoded", "packets", w.Len(), "skipped", w.Skipped(),
		"truncated", w.Truncated(), "read", humanize.Bytes(uint64(read.n)))

	if err == nil {
		return w, nil, nil
	}
	kind := apperrors.KindOf(err)
	if (kind == apperrors.KindCaptureTimeout || kind == apperrors.KindMalformedOutput) && w.Len() > 0 {
		return w, []Warning{warningFrom(err)}, nil
	}
	return nil, nil, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

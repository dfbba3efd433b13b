package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jayimu/wireshark-mcp/internal/analysis"
	"github.com/jayimu/wireshark-mcp/internal/config"
	"github.com/jayimu/wireshark-mcp/internal/tshark"
)

const serverName = "wireshark-mcp"

// app holds the state shared by the MCP transports and the status page.
type app struct {
	cfg      *config.Config
	runner   *tshark.Runner
	analyzer *analysis.Analyzer
	mcp      *server.MCPServer
	started  time.Time
	lg       *slog.Logger
}

func newApp(cfg *config.Config, lg *slog.Logger) (*app, error) {
	runner, err := newRunner(cfg, lg)
	if err != nil {
		return nil, err
	}
	a := analysis.New(runner, analysis.OptionsFromConfig(cfg.Limits, lg))

	mcpServer := server.NewMCPServer(
		serverName,
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	registerTools(mcpServer, a)

	return &app{
		cfg:      cfg,
		runner:   runner,
		analyzer: a,
		mcp:      mcpServer,
		started:  time.Now(),
		lg:       lg,
	}, nil
}

// serve runs the configured transport until ctx is cancelled, then stops
// any tshark process still running.
func (s *app) serve(ctx context.Context) error {
	defer func() {
		if n := s.runner.Registry().StopAll(); n > 0 {
			s.lg.Info("stopped running tshark processes", "count", n)
		}
	}()
	if s.cfg.Server.Transport == config.TransportStdio {
		return s.serveStdio(ctx)
	}
	return s.serveSSE(ctx)
}

func (s *app) serveStdio(ctx context.Context) error {
	srv := server.NewStdioServer(s.mcp)
	s.lg.InfoContext(ctx, "mcp server listening on stdio")
	if err := srv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("mcp stdio server error: %w", err)
	}
	return nil
}

// handler returns the HTTP handler of the SSE transport and the status
// page.
func (s *app) handler(sse *server.SSEServer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /sse", sse.SSEHandler())
	mux.Handle("POST /message", sse.MessageHandler())
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("GET /status.json", s.statusJSONHandler)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/status", http.StatusFound)
	})
	return middleware.Recoverer(middleware.Logger(mux))
}

func (s *app) serveSSE(ctx context.Context) error {
	addr := s.cfg.Addr()
	sse := server.NewSSEServer(s.mcp,
		server.WithBaseURL("http://"+addr),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
	)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.handler(sse),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.lg.InfoContext(ctx, "mcp server listening on sse", "addr", addr, "sse", "/sse", "status", "/status")

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("mcp sse server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.lg.Info("mcp server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			s.lg.Warn("sse shutdown", "error", err)
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcp sse server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jayimu/wireshark-mcp/internal/config"
	"github.com/jayimu/wireshark-mcp/internal/tshark"
)

var (
	Version = "1.0.0"
)

// flags holds the command line overrides; zero values leave the
// configuration untouched.
type flags struct {
	configPath string
	envFile    string
	tsharkPath string
	host       string
	port       int
	transport  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "wireshark-mcp",
		Short:         "MCP server exposing tshark packet capture and analysis",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), &f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to a YAML configuration file")
	pf.StringVar(&f.envFile, "env-file", ".env", "load environment variables from this file if it exists")
	pf.StringVar(&f.tsharkPath, "tshark-path", "", "path to the tshark executable (default: $TSHARK, then PATH)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.Flags().StringVar(&f.host, "host", "", "listen host of the SSE transport")
	root.Flags().IntVarP(&f.port, "port", "p", 0, "listen port of the SSE transport")
	root.Flags().StringVarP(&f.transport, "transport", "t", "", "MCP transport: sse or stdio")

	root.AddCommand(newVersionCmd(&f), newInterfacesCmd(&f))
	return root
}

func newVersionCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server and tshark versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serverName, Version)
			cfg, _, err := setup(f)
			if err != nil {
				return err
			}
			r, err := newRunner(cfg, slog.New(slog.DiscardHandler))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			ver, err := r.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", ver, r.Path())
			return nil
		},
	}
}

func newInterfacesCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List the capture interfaces tshark can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := setup(f)
			if err != nil {
				return err
			}
			r, err := newRunner(cfg, lg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Limits.AnalysisTimeout)
			defer cancel()
			ifaces, err := r.Interfaces(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tDESCRIPTION")
			for _, iface := range ifaces {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", iface.Index, iface.Name, iface.Description)
			}
			return tw.Flush()
		},
	}
}

// setup loads the .env file and the configuration, applies the command line
// overrides and builds the logger. Logs go to stderr since stdout may carry
// the stdio transport.
func setup(f *flags) (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.tsharkPath != "" {
		cfg.Tshark.Path = f.tsharkPath
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.transport != "" {
		cfg.Server.Transport = f.transport
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid flags: %w", err)
	}
	lg := cfg.NewLogger(os.Stderr)
	slog.SetDefault(lg)
	return cfg, lg, nil
}

func newRunner(cfg *config.Config, lg *slog.Logger) (*tshark.Runner, error) {
	path, err := tshark.ResolvePath(cfg.Tshark.Path)
	if err != nil {
		return nil, err
	}
	return tshark.NewRunner(path, tshark.WithStderrLimit(cfg.Tshark.StderrLimit), tshark.WithLogger(lg)), nil
}

func runServe(ctx context.Context, f *flags) error {
	cfg, lg, err := setup(f)
	if err != nil {
		return err
	}
	s, err := newApp(cfg, lg)
	if err != nil {
		return err
	}
	printBanner(cfg, s.runner.Path())

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.serve(ctx)
}

// printBanner writes the startup banner to stderr.
func printBanner(cfg *config.Config, tsharkPath string) {
	out := color.Error
	bold := color.New(color.Bold, color.FgCyan)
	dim := color.New(color.Faint)

	bold.Fprintf(out, "%s %s\n", serverName, Version)
	dim.Fprintf(out, "  %s/%s, %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(out, "  tshark:    %s\n", tsharkPath)
	if cfg.Server.Transport == config.TransportStdio {
		fmt.Fprintf(out, "  transport: %s\n", color.GreenString("stdio"))
	} else {
		fmt.Fprintf(out, "  transport: %s on %s\n", color.GreenString("sse"), color.GreenString("http://%s/sse", cfg.Addr()))
		fmt.Fprintf(out, "  status:    http://%s/status\n", cfg.Addr())
	}
	fmt.Fprintf(out, "  limits:    %d packets per request (max %d), %d concurrent\n",
		cfg.Limits.MaxPackets, cfg.Limits.MaxPacketsLimit, cfg.Limits.MaxConcurrent)
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/netinspect/pkg/config"
	"github.com/getmockd/netinspect/pkg/inspector"
)

// serveFlags hold command line overrides for serve.
type serveFlags struct {
	listen    string
	path      string
	proxy     string
	metrics   string
	codec     string
	filter    string
	maxBuffer int
	noCapture bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inspector endpoint and capturing proxy (foreground)",
		Long: `Start the observer endpoint. When a proxy address is configured, HTTP
traffic sent through it is captured and streamed to the connected observer.`,
		Example: `  # Start with defaults (endpoint on 127.0.0.1:9229/devtools)
  netinspect serve

  # Capture traffic through a forward proxy and expose metrics
  netinspect serve --proxy 127.0.0.1:8888 --metrics 127.0.0.1:9100

  # Only capture one host
  netinspect serve --proxy :8888 --filter 'host == "api.example.com"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}

			log, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			in, err := inspector.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := in.Start(); err != nil {
				return err
			}
			if addr, ok := in.Addr(inspector.ListenerEndpoint); ok {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Observer endpoint: ws://%s%s\n", addr, cfg.Path)
			}
			if addr, ok := in.Addr(inspector.ListenerProxy); ok {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Capturing proxy:   http://%s\n", addr)
			}
			if addr, ok := in.Addr(inspector.ListenerMetrics); ok {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Metrics:           http://%s/metrics\n", addr)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), inspector.ShutdownTimeout)
			defer cancel()
			return in.Shutdown(shutdownCtx)
		},
	}

	f.bind(cmd)
	return cmd
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.listen, "listen", config.DefaultListen, "Observer endpoint address")
	fl.StringVar(&f.path, "path", config.DefaultPath, "Observer endpoint path")
	fl.StringVar(&f.proxy, "proxy", "", "Capturing forward proxy address (disabled when empty)")
	fl.StringVar(&f.metrics, "metrics", "", "Prometheus metrics address (disabled when empty)")
	fl.StringVar(&f.codec, "codec", "json", "Wire codec for observer messages (json, cbor)")
	fl.StringVar(&f.filter, "filter", "", "Capture filter expression")
	fl.IntVar(&f.maxBuffer, "max-buffer", 0, "Response body buffer budget in bytes")
	fl.BoolVar(&f.noCapture, "no-capture", false, "Start with capture disabled")
}

// apply overlays flags the user set explicitly onto cfg, so that flag
// defaults never mask file or environment values.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fl.Changed("path") {
		cfg.Path = f.path
	}
	if fl.Changed("proxy") {
		cfg.ProxyListen = f.proxy
	}
	if fl.Changed("metrics") {
		cfg.MetricsListen = f.metrics
	}
	if fl.Changed("codec") {
		cfg.Bridge.Codec = f.codec
	}
	if fl.Changed("filter") {
		cfg.Capture.Filter.Expr = f.filter
	}
	if fl.Changed("max-buffer") {
		cfg.Capture.MaxBufferBytes = f.maxBuffer
	}
	if f.noCapture {
		cfg.Capture.Enabled = false
	}
	return cfg.Validate()
}

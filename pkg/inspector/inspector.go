package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/capture"
	"github.com/getmockd/netinspect/pkg/config"
	"github.com/getmockd/netinspect/pkg/intercept"
	"github.com/getmockd/netinspect/pkg/logging"
	"github.com/getmockd/netinspect/pkg/metrics"
	"github.com/getmockd/netinspect/pkg/wstransport"
)

const (
	readHeaderTimeout = 10 * time.Second
	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout = 10 * time.Second
)

// ErrAlreadyStarted is returned by Start when listeners are already bound.
var ErrAlreadyStarted = errors.New("inspector already started")

// Inspector wires every component for one configuration: the body store,
// the bridge, the capture coordinator, the observer endpoint, the capturing
// proxy and metrics.
type Inspector struct {
	cfg *config.Config
	log *slog.Logger

	Metrics     *metrics.Set
	Store       *bodystore.Store
	Bridge      *bridge.Bridge
	Coordinator *capture.Coordinator
	Endpoint    *wstransport.Server
	Proxy       *intercept.Proxy

	filter *intercept.Filter

	mu      sync.Mutex
	servers []*http.Server
	addrs   map[string]net.Addr
}

// New builds an Inspector. cfg must be valid; log may be nil.
func New(cfg *config.Config, log *slog.Logger) (*Inspector, error) {
	if log == nil {
		log = logging.Nop()
	}
	filter, err := intercept.NewFilter(cfg.Capture.Filter)
	if err != nil {
		return nil, fmt.Errorf("capture filter: %w", err)
	}
	codec, err := bridge.CodecByName(cfg.Bridge.Codec)
	if err != nil {
		return nil, err
	}
	overflow, err := bridge.ParseOverflow(cfg.Bridge.Overflow)
	if err != nil {
		return nil, err
	}

	set := metrics.NewSet()
	store := bodystore.New(cfg.Capture.MaxBufferBytes,
		bodystore.WithLogger(log.With("component", "bodystore")),
		bodystore.WithOnEvict(set.OnEvict),
	)

	bridgeOpts := []bridge.Option{
		bridge.WithCodec(codec),
		bridge.WithLogger(log.With("component", "bridge")),
		bridge.WithHooks(set.BridgeHooks()),
	}
	if cfg.Bridge.MaxUnacked > 0 {
		bridgeOpts = append(bridgeOpts, bridge.WithMaxUnacked(cfg.Bridge.MaxUnacked, overflow))
	}
	b := bridge.New(nil, bridgeOpts...)

	coord := capture.New(b, store,
		capture.WithLogger(log.With("component", "capture")),
		capture.WithEnabled(cfg.Capture.Enabled),
		capture.WithPolicy(cfg.Capture.ClientPolicy()),
		capture.WithOnBodyServed(set.OnBodyServed),
	)

	endpoint := wstransport.NewServer(b,
		wstransport.WithLogger(log.With("component", "wstransport")),
		wstransport.WithQueueSize(cfg.Bridge.QueueSize),
		wstransport.WithPingInterval(cfg.Bridge.PingInterval),
		wstransport.WithOriginPatterns(cfg.AllowedOrigins...),
		wstransport.WithConnectHook(
			func(wstransport.Info) { set.OnObserverConnect() },
			func(wstransport.Info) { set.OnObserverDisconnect() },
		),
	)

	proxy := intercept.NewProxy(intercept.Options{
		Sink:            coord,
		Filter:          filter,
		Policy:          cfg.Capture.ProxyPolicy(),
		MaxCaptureBytes: cfg.Capture.MaxCaptureBytes,
		Logger:          log.With("component", "proxy"),
	})

	set.ObserveBridge(b)
	set.ObserveStore(store)

	return &Inspector{
		cfg:         cfg,
		log:         log,
		Metrics:     set,
		Store:       store,
		Bridge:      b,
		Coordinator: coord,
		Endpoint:    endpoint,
		Proxy:       proxy,
		filter:      filter,
		addrs:       make(map[string]net.Addr),
	}, nil
}

// Transport returns an http.RoundTripper that reports requests made through
// base to the coordinator. A nil base uses http.DefaultTransport.
func (in *Inspector) Transport(base http.RoundTripper) *intercept.Transport {
	return intercept.NewTransport(base, intercept.Options{
		Sink:            in.Coordinator,
		Filter:          in.filter,
		Policy:          in.cfg.Capture.ClientPolicy(),
		MaxCaptureBytes: in.cfg.Capture.MaxCaptureBytes,
		Logger:          in.log.With("component", "transport"),
	})
}

// Client returns an http.Client whose traffic is captured.
func (in *Inspector) Client() *http.Client {
	return &http.Client{Transport: in.Transport(nil)}
}

// Status is the body of the status endpoint.
type Status struct {
	Capturing         bool            `json:"capturing"`
	InFlight          int             `json:"inFlight"`
	ObserverConnected bool            `json:"observerConnected"`
	Bridge            bridge.Stats    `json:"bridge"`
	Store             bodystore.Stats `json:"store"`
}

// Status returns a snapshot of the inspector state.
func (in *Inspector) Status() Status {
	_, connected := in.Endpoint.Connected()
	return Status{
		Capturing:         in.Coordinator.Enabled(),
		InFlight:          in.Coordinator.InFlight(),
		ObserverConnected: connected,
		Bridge:            in.Bridge.Stats(),
		Store:             in.Store.Stats(),
	}
}

// Handler serves the observer websocket at the configured path and a JSON
// status document at /status.
func (in *Inspector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(in.cfg.Path, in.Endpoint)
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(in.Status())
	})
	return mux
}

// Listener names used by Addr.
const (
	ListenerEndpoint = "endpoint"
	ListenerProxy    = "proxy"
	ListenerMetrics  = "metrics"
)

// Start binds the configured listeners and serves them in the background.
func (in *Inspector) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.servers) > 0 {
		return ErrAlreadyStarted
	}

	type listener struct {
		name    string
		addr    string
		handler http.Handler
	}
	listeners := []listener{{ListenerEndpoint, in.cfg.Listen, in.Handler()}}
	if in.cfg.ProxyListen != "" {
		listeners = append(listeners, listener{ListenerProxy, in.cfg.ProxyListen, in.Proxy})
	}
	if in.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", in.Metrics.Registry.Handler())
		listeners = append(listeners, listener{ListenerMetrics, in.cfg.MetricsListen, mux})
	}

	for _, l := range listeners {
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			in.closeLocked()
			return fmt.Errorf("listen %s on %s: %w", l.name, l.addr, err)
		}
		srv := &http.Server{
			Handler:           l.handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          slog.NewLogLogger(in.log.Handler(), slog.LevelWarn),
		}
		in.servers = append(in.servers, srv)
		in.addrs[l.name] = ln.Addr()

		in.log.Info("listening", "listener", l.name, "addr", ln.Addr().String())
		go func(name string) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				in.log.Error("server error", "listener", name, "error", err)
			}
		}(l.name)
	}
	return nil
}

// Addr returns the bound address of a listener started by Start.
func (in *Inspector) Addr(name string) (net.Addr, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	addr, ok := in.addrs[name]
	return addr, ok
}

// Shutdown disconnects the observer, stops the listeners and cancels
// pending body pulls.
func (in *Inspector) Shutdown(ctx context.Context) error {
	var errs []error
	if err := in.Endpoint.Close(); err != nil {
		errs = append(errs, fmt.Errorf("endpoint close: %w", err))
	}

	in.mu.Lock()
	servers := in.servers
	in.servers = nil
	in.addrs = make(map[string]net.Addr)
	in.mu.Unlock()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := in.Coordinator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("coordinator close: %w", err))
	}
	return errors.Join(errs...)
}

func (in *Inspector) closeLocked() {
	for _, srv := range in.servers {
		_ = srv.Close()
	}
	in.servers = nil
	in.addrs = make(map[string]net.Addr)
}

// Run starts the inspector and blocks until ctx is done, then shuts down
// gracefully.
func (in *Inspector) Run(ctx context.Context) error {
	if err := in.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	in.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return in.Shutdown(shutdownCtx)
}

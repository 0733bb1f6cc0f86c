package config

import (
	"errors"
	"strings"
	"time"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/intercept"
	"github.com/getmockd/netinspect/pkg/logging"
	"github.com/getmockd/netinspect/pkg/netevent"
	"github.com/getmockd/netinspect/pkg/wstransport"
)

// Default listen addresses and paths.
const (
	DefaultListen = "127.0.0.1:9229"
	DefaultPath   = "/devtools"
)

// Config is the netinspect configuration file.
type Config struct {
	// Listen is the address of the observer websocket endpoint.
	Listen string `yaml:"listen" json:"listen"`
	// Path is the HTTP path of the websocket endpoint.
	Path string `yaml:"path" json:"path"`
	// ProxyListen enables the capturing forward proxy. Empty disables it.
	ProxyListen string `yaml:"proxyListen,omitempty" json:"proxyListen,omitempty"`
	// MetricsListen enables the /metrics endpoint. Empty disables it.
	MetricsListen string `yaml:"metricsListen,omitempty" json:"metricsListen,omitempty"`
	// AllowedOrigins lists cross-origin hosts allowed to connect.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" json:"allowedOrigins,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
	Bridge  BridgeConfig  `yaml:"bridge" json:"bridge"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// CaptureConfig controls what is captured and how much is kept.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxBufferBytes is the response body store budget.
	MaxBufferBytes int `yaml:"maxBufferBytes" json:"maxBufferBytes"`
	// TruncationCeiling applies to bodies captured by the HTTP client
	// transport; ProxyTruncationCeiling to bodies seen by the proxy.
	TruncationCeiling      int `yaml:"truncationCeiling" json:"truncationCeiling"`
	ProxyTruncationCeiling int `yaml:"proxyTruncationCeiling" json:"proxyTruncationCeiling"`
	// TruncationChars is how many characters a truncated body keeps.
	TruncationChars int `yaml:"truncationChars" json:"truncationChars"`
	// MaxCaptureBytes caps the raw bytes retained per response.
	MaxCaptureBytes int64 `yaml:"maxCaptureBytes" json:"maxCaptureBytes"`

	Filter intercept.FilterConfig `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// BridgeConfig controls the reliable event channel.
type BridgeConfig struct {
	// Codec is "json" or "cbor".
	Codec string `yaml:"codec" json:"codec"`
	// MaxUnacked caps queued unacknowledged messages. Zero is unbounded.
	MaxUnacked int `yaml:"maxUnacked" json:"maxUnacked"`
	// Overflow is "drop-oldest" or "reject".
	Overflow string `yaml:"overflow" json:"overflow"`
	// QueueSize is the per-connection websocket send queue.
	QueueSize int `yaml:"queueSize" json:"queueSize"`
	// PingInterval is the websocket keepalive interval. Zero disables it.
	PingInterval time.Duration `yaml:"pingInterval" json:"pingInterval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// File additionally receives JSON logs.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Path:   DefaultPath,
		Capture: CaptureConfig{
			Enabled:                true,
			MaxBufferBytes:         bodystore.DefaultMaxBytes,
			TruncationCeiling:      netevent.DefaultClientCeiling,
			ProxyTruncationCeiling: netevent.DefaultProxyCeiling,
			TruncationChars:        netevent.DefaultTruncationChars,
			MaxCaptureBytes:        intercept.DefaultMaxCaptureBytes,
		},
		Bridge: BridgeConfig{
			Codec:        bridge.CodecJSON,
			Overflow:     string(bridge.OverflowDropOldest),
			QueueSize:    wstransport.DefaultQueueSize,
			PingInterval: wstransport.DefaultPingInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
	}
}

// Validate checks semantic constraints the schema cannot express. All
// problems are reported, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if strings.TrimSpace(c.Listen) == "" {
		add("listen", "listen address is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		add("path", "path must start with /")
	}
	if sameAddr(c.ProxyListen, c.Listen) {
		add("proxyListen", "proxy and websocket endpoint cannot share an address")
	}
	if sameAddr(c.MetricsListen, c.Listen) || sameAddr(c.MetricsListen, c.ProxyListen) {
		add("metricsListen", "metrics cannot share an address with another listener")
	}

	capture := c.Capture
	if capture.MaxBufferBytes <= 0 {
		add("capture.maxBufferBytes", "must be positive")
	}
	if capture.TruncationCeiling <= 0 {
		add("capture.truncationCeiling", "must be positive")
	}
	if capture.ProxyTruncationCeiling <= 0 {
		add("capture.proxyTruncationCeiling", "must be positive")
	}
	if capture.TruncationChars <= 0 {
		add("capture.truncationChars", "must be positive")
	}
	if capture.MaxCaptureBytes < 0 {
		add("capture.maxCaptureBytes", "must not be negative")
	}
	if _, err := intercept.NewFilter(capture.Filter); err != nil {
		add("capture.filter", err.Error())
	}

	if _, err := bridge.CodecByName(c.Bridge.Codec); err != nil {
		add("bridge.codec", err.Error())
	}
	if _, err := bridge.ParseOverflow(c.Bridge.Overflow); err != nil {
		add("bridge.overflow", err.Error())
	}
	if c.Bridge.MaxUnacked < 0 {
		add("bridge.maxUnacked", "must not be negative")
	}
	if c.Bridge.PingInterval < 0 {
		add("bridge.pingInterval", "must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", err.Error())
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		add("log.format", err.Error())
	}

	return errors.Join(errs...)
}

// sameAddr reports whether two configured listeners would collide. Port 0
// picks a free port, so it never collides.
func sameAddr(a, b string) bool {
	return a != "" && a == b && !strings.HasSuffix(a, ":0")
}

// ClientPolicy returns the truncation policy for the HTTP client transport.
func (c CaptureConfig) ClientPolicy() netevent.Policy {
	p := netevent.DefaultPolicy()
	p.Ceiling = c.TruncationCeiling
	p.Chars = c.TruncationChars
	return p
}

// ProxyPolicy returns the truncation policy for the forward proxy.
func (c CaptureConfig) ProxyPolicy() netevent.Policy {
	p := netevent.ProxyPolicy()
	p.Ceiling = c.ProxyTruncationCeiling
	p.Chars = c.TruncationChars
	return p
}

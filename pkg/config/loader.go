package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NETINSPECT_"

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = EnvPrefix + "CONFIG"

// DiscoveryOrder lists the file names looked up in the working directory.
var DiscoveryOrder = []string{
	"netinspect.yaml",
	"netinspect.yml",
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the configuration. An empty path triggers discovery; when no
// file is found the defaults are used. Environment overrides are applied
// last and the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		discovered, err := Discover()
		if err != nil {
			return nil, err
		}
		path = discovered
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if cfg, err = parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes parses and validates a configuration document. Environment
// overrides are not applied.
func LoadBytes(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse expands ${VAR} references, checks the document against the schema
// and decodes it over the defaults.
func parse(data []byte) (*Config, error) {
	expanded := []byte(ExpandEnvVars(string(data)))

	var doc any
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return cfg, nil
}

// Discover returns the config path from NETINSPECT_CONFIG or the first
// DiscoveryOrder file in the working directory. It returns "" when there is
// none.
func Discover() (string, error) {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("%s points to a missing file: %w", EnvConfigPath, err)
		}
		return envPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	for _, name := range DiscoveryOrder {
		path := filepath.Join(cwd, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// ExpandEnvVars expands ${VAR_NAME} and ${VAR_NAME:-default} references.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(submatch[1]); val != "" {
			return val
		}
		return submatch[2]
	})
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"LISTEN", func(c *Config, v string) error { c.Listen = v; return nil }},
	{"PATH", func(c *Config, v string) error { c.Path = v; return nil }},
	{"PROXY_LISTEN", func(c *Config, v string) error { c.ProxyListen = v; return nil }},
	{"METRICS_LISTEN", func(c *Config, v string) error { c.MetricsListen = v; return nil }},
	{"ALLOWED_ORIGINS", func(c *Config, v string) error { c.AllowedOrigins = splitList(v); return nil }},
	{"CAPTURE_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.Capture.Enabled) }},
	{"MAX_BUFFER_BYTES", func(c *Config, v string) error { return parseInt(v, &c.Capture.MaxBufferBytes) }},
	{"TRUNCATION_CEILING", func(c *Config, v string) error { return parseInt(v, &c.Capture.TruncationCeiling) }},
	{"PROXY_TRUNCATION_CEILING", func(c *Config, v string) error { return parseInt(v, &c.Capture.ProxyTruncationCeiling) }},
	{"TRUNCATION_CHARS", func(c *Config, v string) error { return parseInt(v, &c.Capture.TruncationChars) }},
	{"MAX_CAPTURE_BYTES", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			c.Capture.MaxCaptureBytes = n
		}
		return err
	}},
	{"FILTER_EXPR", func(c *Config, v string) error { c.Capture.Filter.Expr = v; return nil }},
	{"BRIDGE_CODEC", func(c *Config, v string) error { c.Bridge.Codec = v; return nil }},
	{"BRIDGE_MAX_UNACKED", func(c *Config, v string) error { return parseInt(v, &c.Bridge.MaxUnacked) }},
	{"BRIDGE_OVERFLOW", func(c *Config, v string) error { c.Bridge.Overflow = v; return nil }},
	{"BRIDGE_PING_INTERVAL", func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.Bridge.PingInterval = d
		}
		return err
	}},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
}

// ApplyEnv applies NETINSPECT_* overrides found through lookup.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err))
		}
	}
	return errors.Join(errs...)
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

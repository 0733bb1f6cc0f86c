package intercept

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FilterConfig defines which requests are captured.
//
// Host patterns are matched case-insensitively. Path patterns use doublestar
// syntax: "*" stays within one path segment, "**" spans segments.
type FilterConfig struct {
	IncludeHosts []string `json:"includeHosts,omitempty" yaml:"includeHosts,omitempty"` // capture only these hosts (empty = all)
	ExcludeHosts []string `json:"excludeHosts,omitempty" yaml:"excludeHosts,omitempty"` // never capture these hosts
	IncludePaths []string `json:"includePaths,omitempty" yaml:"includePaths,omitempty"` // capture only these paths (empty = all)
	ExcludePaths []string `json:"excludePaths,omitempty" yaml:"excludePaths,omitempty"` // never capture these paths

	// Expr is an optional boolean expression evaluated after the glob
	// checks, over the variables method, host, path and url.
	// Example: `method != "OPTIONS" && !(path startsWith "/health")`.
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// Filter decides whether a request is captured. A nil *Filter captures
// everything.
type Filter struct {
	cfg     FilterConfig
	program *vm.Program
}

func filterEnv(method, host, path, url string) map[string]interface{} {
	return map[string]interface{}{
		"method": method,
		"host":   host,
		"path":   path,
		"url":    url,
	}
}

// NewFilter validates cfg and compiles its expression.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	for _, group := range [][]string{cfg.IncludeHosts, cfg.ExcludeHosts, cfg.IncludePaths, cfg.ExcludePaths} {
		for _, pattern := range group {
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
			}
		}
	}

	f := &Filter{cfg: cfg}
	if strings.TrimSpace(cfg.Expr) != "" {
		program, err := expr.Compile(cfg.Expr, expr.Env(filterEnv("", "", "", "")), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidExpr, err)
		}
		f.program = program
	}
	return f, nil
}

// Config returns the configuration the filter was built from.
func (f *Filter) Config() FilterConfig {
	if f == nil {
		return FilterConfig{}
	}
	return f.cfg
}

// ShouldCapture applies the filter. Precedence:
//  1. a match on any exclude pattern rejects
//  2. include patterns, when present, must match
//  3. the expression, when present, must evaluate to true
func (f *Filter) ShouldCapture(method, host, path, url string) bool {
	if f == nil {
		return true
	}
	host = strings.ToLower(hostOnly(host))

	if matchAny(f.cfg.ExcludeHosts, host, true) || matchAny(f.cfg.ExcludePaths, path, false) {
		return false
	}
	if len(f.cfg.IncludeHosts) > 0 && !matchAny(f.cfg.IncludeHosts, host, true) {
		return false
	}
	if len(f.cfg.IncludePaths) > 0 && !matchAny(f.cfg.IncludePaths, path, false) {
		return false
	}

	if f.program == nil {
		return true
	}
	out, err := expr.Run(f.program, filterEnv(method, host, path, url))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func matchAny(patterns []string, s string, fold bool) bool {
	for _, pattern := range patterns {
		if fold {
			pattern = strings.ToLower(pattern)
		}
		if pattern == "*" || pattern == "**" {
			return true
		}
		if ok, _ := doublestar.Match(pattern, s); ok {
			return true
		}
	}
	return false
}

// hostOnly strips a port from host.
func hostOnly(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 && strings.Count(host, ":") == 1 {
		return host[:i]
	}
	return host
}

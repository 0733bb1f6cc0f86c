package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFilter(t *testing.T, cfg FilterConfig) *Filter {
	t.Helper()
	f, err := NewFilter(cfg)
	require.NoError(t, err)
	return f
}

func TestFilter_ShouldCapture(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    FilterConfig
		method string
		host   string
		path   string
		want   bool
	}{
		{name: "empty filter captures everything", host: "example.com", path: "/api/users", want: true},
		{
			name: "exclude paths take precedence",
			cfg:  FilterConfig{IncludePaths: []string{"/api/*"}, ExcludePaths: []string{"/api/health"}},
			host: "example.com", path: "/api/health", want: false,
		},
		{
			name: "include paths admit matches",
			cfg:  FilterConfig{IncludePaths: []string{"/api/*"}},
			host: "example.com", path: "/api/users", want: true,
		},
		{
			name: "include paths reject others",
			cfg:  FilterConfig{IncludePaths: []string{"/api/*"}},
			host: "example.com", path: "/other/path", want: false,
		},
		{
			name: "single star stays in one segment",
			cfg:  FilterConfig{IncludePaths: []string{"/api/*"}},
			host: "example.com", path: "/api/users/123", want: false,
		},
		{
			name: "double star spans segments",
			cfg:  FilterConfig{IncludePaths: []string{"/api/**"}},
			host: "example.com", path: "/api/users/123", want: true,
		},
		{
			name: "host exclusion",
			cfg:  FilterConfig{ExcludeHosts: []string{"internal.example.com"}},
			host: "internal.example.com", path: "/", want: false,
		},
		{
			name: "host pattern inclusion",
			cfg:  FilterConfig{IncludeHosts: []string{"api.example.com", "*.prod.example.com"}},
			host: "app.prod.example.com", path: "/", want: true,
		},
		{
			name: "host inclusion rejects others",
			cfg:  FilterConfig{IncludeHosts: []string{"api.example.com"}},
			host: "other.example.com", path: "/", want: false,
		},
		{
			name: "host match ignores port and case",
			cfg:  FilterConfig{IncludeHosts: []string{"API.example.com"}},
			host: "api.EXAMPLE.com:8443", path: "/", want: true,
		},
		{
			name: "exclude host beats include",
			cfg:  FilterConfig{IncludeHosts: []string{"*.example.com"}, ExcludeHosts: []string{"internal.example.com"}},
			host: "internal.example.com", path: "/path", want: false,
		},
		{
			name:   "expression rejects",
			cfg:    FilterConfig{Expr: `method != "OPTIONS"`},
			method: "OPTIONS", host: "example.com", path: "/", want: false,
		},
		{
			name:   "expression admits",
			cfg:    FilterConfig{Expr: `method == "GET" && !(path startsWith "/health")`},
			method: "GET", host: "example.com", path: "/api", want: true,
		},
		{
			name:   "expression runs after globs",
			cfg:    FilterConfig{ExcludePaths: []string{"/api"}, Expr: `true`},
			method: "GET", host: "example.com", path: "/api", want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := mustFilter(t, tt.cfg)
			got := f.ShouldCapture(tt.method, tt.host, tt.path, "http://"+tt.host+tt.path)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_Nil(t *testing.T) {
	t.Parallel()
	var f *Filter
	assert.True(t, f.ShouldCapture("GET", "example.com", "/", "http://example.com/"))
	assert.Equal(t, FilterConfig{}, f.Config())
}

func TestNewFilter_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewFilter(FilterConfig{IncludePaths: []string{"/api/[unclosed"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = NewFilter(FilterConfig{Expr: `method +`})
	assert.ErrorIs(t, err, ErrInvalidExpr)

	_, err = NewFilter(FilterConfig{Expr: `len(path)`})
	assert.ErrorIs(t, err, ErrInvalidExpr, "non-boolean expressions are rejected")
}

func TestHostOnly(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "example.com", hostOnly("example.com:80"))
	assert.Equal(t, "example.com", hostOnly("example.com"))
	assert.Equal(t, "::1", hostOnly("[::1]:8080"))
	assert.Equal(t, "::1", hostOnly("::1"))
}

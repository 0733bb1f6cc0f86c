package inspector

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/getmockd/netinspect/pkg/config"
	"github.com/getmockd/netinspect/pkg/intercept"
)

func benchTarget(b *testing.B) *httptest.Server {
	b.Helper()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	b.Cleanup(target.Close)
	return target
}

func proxiedClient(b *testing.B, h http.Handler) *http.Client {
	b.Helper()
	proxyServer := httptest.NewServer(h)
	b.Cleanup(proxyServer.Close)
	proxyURL, _ := url.Parse(proxyServer.URL)
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
}

func get(b *testing.B, client *http.Client, u string) {
	resp, err := client.Get(u)
	if err != nil {
		b.Fatalf("Request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// BenchmarkProxyCaptureLatency measures a request through the capturing
// proxy with the full pipeline behind it.
func BenchmarkProxyCaptureLatency(b *testing.B) {
	target := benchTarget(b)

	cfg := config.Default()
	cfg.Bridge.MaxUnacked = 1000
	in, err := New(cfg, nil)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = in.Coordinator.Close() })
	client := proxiedClient(b, in.Proxy)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		get(b, client, target.URL+"/api/test")
	}
}

// BenchmarkProxyPassthroughLatency measures the proxy with capture discarded.
func BenchmarkProxyPassthroughLatency(b *testing.B) {
	target := benchTarget(b)
	client := proxiedClient(b, intercept.NewProxy(intercept.Options{}))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		get(b, client, target.URL+"/api/test")
	}
}

// BenchmarkDirectLatency is the baseline without any proxy.
func BenchmarkDirectLatency(b *testing.B) {
	target := benchTarget(b)
	client := &http.Client{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		get(b, client, target.URL+"/api/test")
	}
}

package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/capture"
	"github.com/getmockd/netinspect/pkg/config"
	"github.com/getmockd/netinspect/pkg/netevent"
	"github.com/getmockd/netinspect/pkg/wstransport"
)

const (
	defaultWait  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
)

type observed struct {
	mu   sync.Mutex
	msgs []bridge.Message
}

func (o *observed) add(m *bridge.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, *m)
}

func (o *observed) find(pred func(bridge.Message) bool) (bridge.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.msgs {
		if pred(m) {
			return m, true
		}
	}
	return bridge.Message{}, false
}

func (o *observed) methods() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.msgs {
		if m.Method != "" && (len(out) == 0 || out[len(out)-1] != m.Method) {
			out = append(out, m.Method)
		}
	}
	return out
}

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Bridge.PingInterval = 0
	return cfg
}

func connectObserver(t *testing.T, in *Inspector) (*bridge.Receiver, *observed) {
	t.Helper()
	srv := httptest.NewServer(in.Handler())
	t.Cleanup(srv.Close)

	got := &observed{}
	r := bridge.NewReceiver(nil, got.add, bridge.WithAckEvery(1))
	c, err := wstransport.NewClient(wstransport.ClientConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + in.cfg.Path,
	}, r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = in.Shutdown(context.Background())
	})

	require.Eventually(t, func() bool { return in.Status().ObserverConnected }, defaultWait, pollInterval)
	return r, got
}

func TestInspector_ClientCaptureAndBodyPull(t *testing.T) {
	t.Parallel()
	in, err := New(testConfig(), nil)
	require.NoError(t, err)
	r, got := connectObserver(t, in)

	upstream := backend(t)
	resp, err := in.Client().Get(upstream.URL + "/users")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.JSONEq(t, `{"path":"/users"}`, string(body))

	require.Eventually(t, func() bool {
		_, ok := got.find(func(m bridge.Message) bool { return m.Method == netevent.MethodLoadingFinished })
		return ok
	}, defaultWait, pollInterval)
	assert.Equal(t, []string{
		netevent.MethodRequestWillBeSent,
		netevent.MethodResponseReceived,
		netevent.MethodDataReceived,
		netevent.MethodLoadingFinished,
	}, got.methods())

	started, _ := got.find(func(m bridge.Message) bool { return m.Method == netevent.MethodRequestWillBeSent })
	var params netevent.RequestWillBeSentParams
	require.NoError(t, json.Unmarshal(started.Params, &params))
	assert.Equal(t, upstream.URL+"/users", params.Request.URL)

	pull := func() bridge.Message {
		reqID, err := r.Request(netevent.MethodGetResponseBody, netevent.GetResponseBodyParams{RequestID: params.RequestID})
		require.NoError(t, err)
		var reply bridge.Message
		require.Eventually(t, func() bool {
			var ok bool
			reply, ok = got.find(func(m bridge.Message) bool { return m.CorrelationID == reqID })
			return ok
		}, defaultWait, pollInterval)
		return reply
	}

	first := pull()
	require.Empty(t, first.Error)
	var result netevent.GetResponseBodyResult
	require.NoError(t, json.Unmarshal(first.Result, &result))
	assert.JSONEq(t, `{"path":"/users"}`, result.Body)
	assert.False(t, result.WasTruncated)

	second := pull()
	assert.Equal(t, capture.NotFoundMessage, second.Error)

	require.Eventually(t, func() bool { return len(in.Bridge.Unacked()) == 0 }, defaultWait, pollInterval)
	assert.Zero(t, in.Status().InFlight)
}

func TestInspector_StartProxyAndMetrics(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ProxyListen = "127.0.0.1:0"
	cfg.MetricsListen = "127.0.0.1:0"
	in, err := New(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, in.Start())
	assert.ErrorIs(t, in.Start(), ErrAlreadyStarted)
	t.Cleanup(func() { _ = in.Shutdown(context.Background()) })

	proxyAddr, ok := in.Addr(ListenerProxy)
	require.True(t, ok)
	metricsAddr, ok := in.Addr(ListenerMetrics)
	require.True(t, ok)

	upstream := backend(t)
	client := &http.Client{Transport: &http.Transport{
		Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: proxyAddr.String()}),
	}}
	resp, err := client.Get(upstream.URL + "/orders")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	finished := `netinspect_events_sent_total{method="Network.loadingFinished"} 1`
	require.Eventually(t, func() bool {
		var sb strings.Builder
		_, _ = in.Metrics.Registry.WriteTo(&sb)
		return strings.Contains(sb.String(), finished)
	}, defaultWait, pollInterval)

	// No observer is connected, so every event stays queued.
	st := in.Status()
	assert.Len(t, in.Bridge.Unacked(), int(st.Bridge.NextID-1))
	assert.Equal(t, 1, st.Store.EntryCount)
	assert.Zero(t, st.InFlight)

	mresp, err := http.Get("http://" + metricsAddr.String() + "/metrics")
	require.NoError(t, err)
	defer func() { _ = mresp.Body.Close() }()
	exposition, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(exposition), finished)
	assert.Contains(t, string(exposition), fmt.Sprintf("netinspect_unacked_messages %d\n", st.Bridge.NextID-1))

	require.NoError(t, in.Shutdown(context.Background()))
	_, ok = in.Addr(ListenerProxy)
	assert.False(t, ok)
}

func TestInspector_CaptureDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Capture.Enabled = false
	in, err := New(cfg, nil)
	require.NoError(t, err)

	resp, err := in.Client().Get(backend(t).URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, int64(1), in.Bridge.Stats().NextID)
	assert.Zero(t, in.Status().InFlight)
}

func TestInspector_StatusEndpoint(t *testing.T) {
	t.Parallel()
	in, err := New(testConfig(), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	in.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Capturing)
	assert.False(t, st.ObserverConnected)
	assert.Equal(t, config.Default().Capture.MaxBufferBytes, st.Store.MaxBytes)
}

func TestNew_InvalidFilter(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Capture.Filter.Expr = "method =="
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

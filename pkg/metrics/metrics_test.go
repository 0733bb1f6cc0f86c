package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/bridge"
)

func TestCounter(t *testing.T) {
	t.Parallel()

	t.Run("without labels", func(t *testing.T) {
		t.Parallel()
		c := NewRegistry().NewCounter("test_counter", "A test counter")
		require.NoError(t, c.Inc())
		require.NoError(t, c.Add(3))

		samples := c.Collect()
		require.Len(t, samples, 1)
		assert.Equal(t, 4.0, samples[0].Value)
	})

	t.Run("with labels", func(t *testing.T) {
		t.Parallel()
		c := NewRegistry().NewCounter("events", "Events", "method")
		for _, m := range []string{"Network.dataReceived", "Network.dataReceived", "Network.loadingFinished"} {
			vec, err := c.WithLabels(m)
			require.NoError(t, err)
			require.NoError(t, vec.Inc())
		}

		samples := c.Collect()
		require.Len(t, samples, 2)
		assert.Equal(t, "Network.dataReceived", samples[0].Labels["method"])
		assert.Equal(t, 2.0, samples[0].Value)
		assert.Equal(t, 1.0, samples[1].Value)
	})

	t.Run("rejects negative delta", func(t *testing.T) {
		t.Parallel()
		c := NewRegistry().NewCounter("test_counter", "A test counter")
		assert.ErrorIs(t, c.Add(-1), ErrNegativeCounterValue)
	})

	t.Run("label count mismatch", func(t *testing.T) {
		t.Parallel()
		c := NewRegistry().NewCounter("events", "Events", "method")
		_, err := c.WithLabels("a", "b")
		assert.ErrorIs(t, err, ErrLabelCountMismatch)
		assert.ErrorIs(t, c.Inc(), ErrLabelCountMismatch)
	})
}

func TestGauge(t *testing.T) {
	t.Parallel()
	g := NewRegistry().NewGauge("depth", "Queue depth")
	require.NoError(t, g.Set(10))
	require.NoError(t, g.Add(-3))

	samples := g.Collect()
	require.Len(t, samples, 1)
	assert.Equal(t, 7.0, samples[0].Value)
}

func TestGaugeFunc(t *testing.T) {
	t.Parallel()
	n := 0.0
	g := NewRegistry().NewGaugeFunc("sampled", "Sampled value", func() float64 { n++; return n })

	assert.Equal(t, 1.0, g.Collect()[0].Value)
	assert.Equal(t, 2.0, g.Collect()[0].Value)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.NewCounter("dup", "first")
	assert.Panics(t, func() { r.NewGauge("dup", "second") })
}

func TestRegistry_Handler(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	c := r.NewCounter("requests_total", "Total requests\nsecond line", "path")
	vec, err := c.WithLabels(`/a"b`)
	require.NoError(t, err)
	require.NoError(t, vec.Add(2))
	r.NewGauge("empty", "Never set")
	r.NewGaugeFunc("ratio", "A ratio", func() float64 { return 0.25 })

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`# HELP requests_total Total requests\nsecond line`,
		`# TYPE requests_total counter`,
		`requests_total{path="/a\"b"} 2`,
		`# HELP ratio A ratio`,
		`# TYPE ratio gauge`,
		`ratio 0.25`,
		``,
	}, "\n"), string(body))
}

func TestConcurrency(t *testing.T) {
	t.Parallel()
	c := NewRegistry().NewCounter("concurrent", "Concurrent counter", "worker")

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := c.WithLabels(string(rune('a' + i%2)))
			if err != nil {
				return
			}
			for range 1000 {
				_ = vec.Inc()
			}
		}()
	}
	wg.Wait()

	total := 0.0
	for _, s := range c.Collect() {
		total += s.Value
	}
	assert.Equal(t, 10000.0, total)
}

func TestFormatFloat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{1.5, "1.5"},
		{1e21, "1e+21"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFloat(tt.in))
	}
}

type fakeBridge struct{ stats bridge.Stats }

func (f fakeBridge) Stats() bridge.Stats { return f.stats }

type fakeStore struct{ stats bodystore.Stats }

func (f fakeStore) Stats() bodystore.Stats { return f.stats }

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	var sb strings.Builder
	_, err := r.WriteTo(&sb)
	require.NoError(t, err)
	return sb.String()
}

func TestSet(t *testing.T) {
	t.Parallel()
	s := NewSet()

	hooks := s.BridgeHooks()
	hooks.OnSend("Network.requestWillBeSent")
	hooks.OnSend("Network.requestWillBeSent")
	hooks.OnRetransmit(3)
	hooks.OnDrop(1)
	hooks.OnAck(5)
	s.OnEvict("client-1", 1024)
	s.OnBodyServed(true)
	s.OnBodyServed(false)
	s.OnObserverConnect()

	s.ObserveBridge(fakeBridge{bridge.Stats{NextID: 8, Unacked: 2}})
	s.ObserveStore(fakeStore{bodystore.Stats{EntryCount: 3, CurrentBytes: 600, MaxBytes: 1000}})

	out := scrape(t, s.Registry)
	for _, line := range []string{
		`netinspect_events_sent_total{method="Network.requestWillBeSent"} 2`,
		`netinspect_retransmitted_total 3`,
		`netinspect_dropped_total 1`,
		`netinspect_acked_total 5`,
		`netinspect_body_evictions_total 1`,
		`netinspect_body_evicted_bytes_total 1024`,
		`netinspect_bodies_served_total{result="found"} 1`,
		`netinspect_bodies_served_total{result="not_found"} 1`,
		`netinspect_observer_sessions_total 1`,
		`netinspect_observer_connected 1`,
		`netinspect_unacked_messages 2`,
		`netinspect_last_message_id 7`,
		`netinspect_body_store_bytes 600`,
		`netinspect_body_store_entries 3`,
		`netinspect_body_store_max_bytes 1000`,
		`# TYPE go_goroutines gauge`,
	} {
		assert.Contains(t, out, line+"\n")
	}

	s.OnObserverDisconnect()
	assert.Contains(t, scrape(t, s.Registry), "netinspect_observer_connected 0\n")
}

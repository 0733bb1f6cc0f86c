package metrics

import (
	"time"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/bridge"
)

const namespace = "netinspect"

// Set is the netinspect metric set on one Registry. Its methods plug into
// the callbacks exposed by the bridge, the body store, the capture
// coordinator and the websocket server.
//
// Label conventions:
//   - method: CDP event method, e.g. Network.requestWillBeSent
//   - result: found, not_found
type Set struct {
	Registry *Registry

	EventsSent        *Counter
	Retransmitted     *Counter
	Dropped           *Counter
	Acked             *Counter
	Evictions         *Counter
	EvictedBytes      *Counter
	BodiesServed      *Counter
	ObserverSessions  *Counter
	ObserverConnected *Gauge
}

// NewSet creates a registry with the netinspect metrics and the Go runtime
// metrics registered.
func NewSet() *Set {
	r := NewRegistry()
	s := &Set{
		Registry: r,
		EventsSent: r.NewCounter(namespace+"_events_sent_total",
			"Events queued for the observer", "method"),
		Retransmitted: r.NewCounter(namespace+"_retransmitted_total",
			"Messages resent on observer request"),
		Dropped: r.NewCounter(namespace+"_dropped_total",
			"Unacknowledged messages dropped by the queue limit"),
		Acked: r.NewCounter(namespace+"_acked_total",
			"Messages confirmed by the observer"),
		Evictions: r.NewCounter(namespace+"_body_evictions_total",
			"Response bodies evicted to stay within the byte budget"),
		EvictedBytes: r.NewCounter(namespace+"_body_evicted_bytes_total",
			"Bytes released by body evictions"),
		BodiesServed: r.NewCounter(namespace+"_bodies_served_total",
			"getResponseBody requests by result", "result"),
		ObserverSessions: r.NewCounter(namespace+"_observer_sessions_total",
			"Observer websocket connections accepted"),
		ObserverConnected: r.NewGauge(namespace+"_observer_connected",
			"1 while an observer is connected"),
	}
	RegisterRuntime(r, time.Now())
	return s
}

// BridgeHooks returns hooks that count bridge traffic.
func (s *Set) BridgeHooks() bridge.Hooks {
	return bridge.Hooks{
		OnSend: func(method string) {
			if vec, err := s.EventsSent.WithLabels(method); err == nil {
				_ = vec.Inc()
			}
		},
		OnRetransmit: func(count int) { _ = s.Retransmitted.Add(float64(count)) },
		OnDrop:       func(int64) { _ = s.Dropped.Inc() },
		OnAck:        func(pruned int) { _ = s.Acked.Add(float64(pruned)) },
	}
}

// OnEvict matches bodystore.EvictFunc.
func (s *Set) OnEvict(_ string, size int) {
	_ = s.Evictions.Inc()
	_ = s.EvictedBytes.Add(float64(size))
}

// OnBodyServed counts getResponseBody results.
func (s *Set) OnBodyServed(found bool) {
	result := "not_found"
	if found {
		result = "found"
	}
	if vec, err := s.BodiesServed.WithLabels(result); err == nil {
		_ = vec.Inc()
	}
}

// OnObserverConnect records an accepted observer connection.
func (s *Set) OnObserverConnect() {
	_ = s.ObserverSessions.Inc()
	_ = s.ObserverConnected.Set(1)
}

// OnObserverDisconnect records that the observer went away.
func (s *Set) OnObserverDisconnect() {
	_ = s.ObserverConnected.Set(0)
}

// ObserveBridge exposes queue state of b, sampled at scrape time.
func (s *Set) ObserveBridge(b interface{ Stats() bridge.Stats }) {
	s.Registry.NewGaugeFunc(namespace+"_unacked_messages", "Messages awaiting acknowledgement",
		func() float64 { return float64(b.Stats().Unacked) })
	s.Registry.NewGaugeFunc(namespace+"_last_message_id", "Highest message id assigned",
		func() float64 { return float64(b.Stats().NextID - 1) })
}

// ObserveStore exposes the body store budget, sampled at scrape time.
func (s *Set) ObserveStore(st interface{ Stats() bodystore.Stats }) {
	s.Registry.NewGaugeFunc(namespace+"_body_store_bytes", "Bytes held by resolved response bodies",
		func() float64 { return float64(st.Stats().CurrentBytes) })
	s.Registry.NewGaugeFunc(namespace+"_body_store_entries", "Response bodies held or pending",
		func() float64 { return float64(st.Stats().EntryCount) })
	s.Registry.NewGaugeFunc(namespace+"_body_store_max_bytes", "Byte budget of the body store",
		func() float64 { return float64(st.Stats().MaxBytes) })
}

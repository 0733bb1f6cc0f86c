// Package metrics exposes netinspect counters and gauges in the Prometheus
// text format (text/plain; version=0.0.4).
//
// Counters and gauges are labelled families; GaugeFunc values are read at
// scrape time, which is how queue depth and body store usage are exported
// without a polling goroutine.
//
// Set bundles the default metrics and adapts them to component callbacks:
//
//	set := metrics.NewSet()
//	store := bodystore.New(max, bodystore.WithOnEvict(set.OnEvict))
//	b := bridge.New(nil, bridge.WithHooks(set.BridgeHooks()))
//	set.ObserveBridge(b)
//	set.ObserveStore(store)
//	http.Handle("/metrics", set.Registry.Handler())
package metrics

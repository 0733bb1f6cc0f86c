// Package wstransport carries the bridge protocol over websocket.
//
// Server is an http.Handler that exposes a bridge.Bridge to a single
// observer. It implements bridge.Transport through a per-connection queue so
// the bridge never blocks on the network.
//
// Client is the observer side: it feeds a bridge.Receiver and reconnects
// with exponential backoff, asking for retransmission after every connect.
//
//	srv := wstransport.NewServer(b, wstransport.WithLogger(log))
//	http.Handle("/devtools", srv)
package wstransport

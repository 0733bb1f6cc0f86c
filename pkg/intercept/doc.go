// Package intercept provides interception sources that report HTTP traffic
// to a capture.Sink.
//
// Transport wraps an http.RoundTripper for in-process clients:
//
//	t := intercept.NewTransport(http.DefaultTransport, intercept.Options{Sink: coordinator})
//	client := &http.Client{Transport: t}
//
// Proxy is a forward HTTP proxy. Plain HTTP requests are captured; CONNECT
// requests are tunneled without capture.
//
// Both apply an optional Filter before reporting anything, and both retain
// at most Options.MaxCaptureBytes of each response body for buffering.
package intercept

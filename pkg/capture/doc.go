// Package capture ties interception sources to the observer.
//
// A Coordinator implements Sink. Sources such as intercept.Transport and
// intercept.Proxy report the lifecycle of each request to it; the
// coordinator encodes those callbacks as Network domain events, sends them
// over a bridge.Bridge, and buffers completed response bodies in a
// bodystore.Store until the observer pulls them with
// Network.getResponseBody.
//
// The lifecycle of a request is
//
//	RequestStarted -> ResponseReceived -> DataReceived* -> Completed | Failed | Aborted
//
// Only Completed buffers a body. Failed and Aborted drop anything pending
// for the request. While capture is disabled every callback is ignored.
//
// Errors never reach the source: encoding or transmission problems are
// logged and the request is otherwise unaffected.
package capture

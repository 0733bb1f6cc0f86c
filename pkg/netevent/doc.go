// Package netevent translates raw network observations into the lifecycle
// events sent to an inspection panel.
//
// The package is pure: encoders take observations and return params structs,
// and nothing here holds state except IDSource.
//
// # Events
//
// A request produces, in order:
//
//	Network.requestWillBeSent
//	Network.responseReceived
//	Network.dataReceived       (zero or more)
//	Network.loadingFinished    or Network.loadingFailed
//
// # Bodies
//
// DecodeBody turns a raw response body into the text that will be buffered:
// it refuses non-text content types, undoes content encodings, converts the
// declared charset to UTF-8 and applies the truncation policy. Sizes are
// always measured in UTF-8 bytes of the stored text, so budget accounting
// agrees with what is actually retained.
package netevent

package netevent

import "errors"

var (
	// ErrUnsupportedEncoding indicates a Content-Encoding that cannot be undone.
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	// ErrDecodedTooLarge indicates a body that decompresses past the limit.
	ErrDecodedTooLarge = errors.New("decoded body too large")
)

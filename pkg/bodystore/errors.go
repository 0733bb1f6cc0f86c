package bodystore

import "errors"

// ErrProducerPanic wraps a panic raised by a body producer.
var ErrProducerPanic = errors.New("body producer panicked")

package bodystore

import (
	"context"
	"sync"
)

// Body is a resolved response body ready to be served to an observer.
type Body struct {
	// Text is the stored body, possibly truncated.
	Text string `json:"body"`

	// Truncated reports whether Text was shortened before storage.
	Truncated bool `json:"wasTruncated"`

	// Size is the serialized byte size of Text. This is the number charged
	// against the store budget.
	Size int `json:"-"`
}

// Producer yields a body asynchronously. Returning (nil, nil) means there is
// nothing to buffer for this request.
type Producer func(ctx context.Context) (*Body, error)

// Pending is a handle on a body whose producer may still be running.
// The generation number is the handle's identity inside a Store: two handles
// for the same request ID never share a generation.
type Pending struct {
	generation uint64
	done       chan struct{}
	once       sync.Once
	body       *Body
	err        error
}

func newPending(generation uint64) *Pending {
	return &Pending{
		generation: generation,
		done:       make(chan struct{}),
	}
}

// Resolved returns a Pending that has already settled with body.
func Resolved(body *Body) *Pending {
	p := newPending(0)
	p.settle(body, nil)
	return p
}

func (p *Pending) settle(body *Body, err error) {
	p.once.Do(func() {
		p.body = body
		p.err = err
		close(p.done)
	})
}

// Done is closed once the producer has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the producer settles or ctx is done. A failed producer
// is reported as a nil body; only ctx errors are returned.
func (p *Pending) Wait(ctx context.Context) (*Body, error) {
	select {
	case <-p.done:
		return p.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the producer error, if the producer failed. It is only
// meaningful after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

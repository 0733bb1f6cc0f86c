package intercept

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/capture"
	"github.com/getmockd/netinspect/pkg/logging"
	"github.com/getmockd/netinspect/pkg/netevent"
)

// DefaultMaxCaptureBytes is the default amount of each response body retained
// for buffering (10MB).
const DefaultMaxCaptureBytes = 10 * 1024 * 1024

// Options configures a Transport or Proxy.
type Options struct {
	// Sink receives lifecycle callbacks. nil discards them until Attach.
	Sink capture.Sink
	// Filter selects captured requests. nil captures everything.
	Filter *Filter
	// Policy is the truncation policy for bodies.
	Policy netevent.Policy
	// MaxCaptureBytes bounds the raw body bytes retained per response.
	MaxCaptureBytes int64
	// IDPrefix prefixes request IDs from this source.
	IDPrefix string
	// Logger for diagnostics (nil = discard).
	Logger *slog.Logger
}

func (o Options) withDefaults(prefix string, policy netevent.Policy) Options {
	if o.Sink == nil {
		o.Sink = capture.Nop{}
	}
	if o.Policy == (netevent.Policy{}) {
		o.Policy = policy
	}
	if o.MaxCaptureBytes <= 0 {
		o.MaxCaptureBytes = DefaultMaxCaptureBytes
	}
	if o.IDPrefix == "" {
		o.IDPrefix = prefix
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// source holds what Transport and Proxy share: the sink, the filter and the
// request ID sequence.
type source struct {
	mu     sync.RWMutex
	sink   capture.Sink
	filter *Filter

	ids        *netevent.IDSource
	policy     netevent.Policy
	maxCapture int64
	log        *slog.Logger
}

func newSource(opts Options) *source {
	return &source{
		sink:       opts.Sink,
		filter:     opts.Filter,
		ids:        netevent.NewIDSource(opts.IDPrefix),
		policy:     opts.Policy,
		maxCapture: opts.MaxCaptureBytes,
		log:        opts.Logger,
	}
}

// Attach implements capture.Source.
func (s *source) Attach(sink capture.Sink) {
	if sink == nil {
		sink = capture.Nop{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// SetFilter replaces the capture filter.
func (s *source) SetFilter(f *Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (s *source) state() (capture.Sink, *Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink, s.filter
}

// tracker follows one response body and reports its end exactly once.
type tracker struct {
	sink            capture.Sink
	id              string
	ctx             context.Context
	contentType     string
	contentEncoding string
	policy          netevent.Policy

	limit    int64
	buf      []byte
	overflow bool

	once sync.Once
}

func (s *source) track(ctx context.Context, sink capture.Sink, id, contentType, contentEncoding string) *tracker {
	return &tracker{
		sink:            sink,
		id:              id,
		ctx:             ctx,
		contentType:     contentType,
		contentEncoding: contentEncoding,
		policy:          s.policy,
		limit:           s.maxCapture,
	}
}

// chunk records bytes seen on the wire.
func (t *tracker) chunk(p []byte) {
	if len(p) == 0 {
		return
	}
	t.sink.DataReceived(t.id, int64(len(p)), int64(len(p)))
	if t.overflow {
		return
	}
	room := t.limit - int64(len(t.buf))
	if int64(len(p)) > room {
		p = p[:room]
		t.overflow = true
	}
	t.buf = append(t.buf, p...)
}

func (t *tracker) complete() {
	t.once.Do(func() {
		t.sink.Completed(t.id, t.producer())
	})
}

// end reports err as a failure, or as an abort when the request context
// is done or err is a cancellation.
func (t *tracker) end(err error) {
	t.once.Do(func() {
		if t.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			t.sink.Aborted(t.id)
			return
		}
		t.sink.Failed(t.id, err)
	})
}

func (t *tracker) abort() {
	t.once.Do(func() {
		t.sink.Aborted(t.id)
	})
}

// producer decodes the retained bytes. A body cut at the capture limit is
// always reported as truncated.
func (t *tracker) producer() bodystore.Producer {
	produce := capture.BodyProducer(t.buf, t.contentType, t.contentEncoding, t.policy)
	if !t.overflow {
		return produce
	}
	return func(ctx context.Context) (*bodystore.Body, error) {
		body, err := produce(ctx)
		if body != nil && !body.Truncated {
			body.Text += netevent.TruncationMarker
			body.Truncated = true
			body.Size = netevent.SerializedSize(body.Text)
		}
		return body, err
	}
}

package capture

import (
	"context"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/netevent"
)

// Sink receives request lifecycle callbacks from an interception source.
// Implementations must be safe for concurrent use and must not block.
type Sink interface {
	// RequestStarted announces a new request. req.ID must be unique for the
	// lifetime of the process; sources allocate it with a netevent.IDSource.
	RequestStarted(req netevent.Request)

	// ResponseReceived reports that response headers arrived.
	ResponseReceived(requestID string, resp netevent.Response)

	// DataReceived reports one body chunk. dataLength is the decoded size,
	// encodedLength the size on the wire.
	DataReceived(requestID string, dataLength, encodedLength int64)

	// Completed reports a successful end of the response. body produces the
	// text to buffer; it may be nil when there is nothing to buffer.
	Completed(requestID string, body bodystore.Producer)

	// Failed reports a transport-level failure.
	Failed(requestID string, err error)

	// Aborted reports that the request was canceled by its caller.
	Aborted(requestID string)
}

// Source is an interception source that reports to a Sink.
type Source interface {
	Attach(sink Sink)
}

// BodyProducer returns a producer that decodes raw with the given content
// headers and applies policy. Non-text content produces nothing.
func BodyProducer(raw []byte, contentType, contentEncoding string, policy netevent.Policy) bodystore.Producer {
	return func(ctx context.Context) (*bodystore.Body, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := netevent.DecodeBody(raw, contentType, contentEncoding, policy)
		if err != nil || payload == nil {
			return nil, err
		}
		return &bodystore.Body{
			Text:      payload.Text,
			Truncated: payload.Truncated,
			Size:      payload.Size,
		}, nil
	}
}

// Nop is a Sink that discards every callback.
type Nop struct{}

func (Nop) RequestStarted(netevent.Request)            {}
func (Nop) ResponseReceived(string, netevent.Response) {}
func (Nop) DataReceived(string, int64, int64)          {}
func (Nop) Completed(string, bodystore.Producer)       {}
func (Nop) Failed(string, error)                       {}
func (Nop) Aborted(string)                             {}

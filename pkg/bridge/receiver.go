package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/getmockd/netinspect/pkg/logging"
)

// DefaultAckEvery is how many in-order messages a Receiver delivers before
// acknowledging them.
const DefaultAckEvery = 16

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithAckEvery sets the acknowledgment interval. Values below 1 ack every
// message.
func WithAckEvery(n int) ReceiverOption {
	return func(r *Receiver) {
		if n < 1 {
			n = 1
		}
		r.ackEvery = n
	}
}

// WithReceiverCodec sets the wire codec. Defaults to JSON.
func WithReceiverCodec(codec Codec) ReceiverOption {
	return func(r *Receiver) {
		if codec != nil {
			r.codec = codec
		}
	}
}

// WithReceiverLogger sets the logger.
func WithReceiverLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		if logger != nil {
			r.log = logger
		}
	}
}

// Receiver is the observer side of the protocol. It delivers messages in
// sequence order exactly once, asks for retransmission when it sees a gap,
// and acknowledges what it has processed.
type Receiver struct {
	tmu       sync.RWMutex
	transport Transport

	mu       sync.Mutex
	lastID   int64
	sinceAck int
	ackEvery int
	// gapAt is the lastID for which a retransmit has already been requested,
	// or -1. gapHigh is the highest out-of-order ID seen since that request.
	// Another request at the same position is only sent when an ID at or
	// below gapHigh comes back: a retransmission pass went by without
	// lastID+1.
	gapAt   int64
	gapHigh int64
	deliver func(*Message)

	requestID atomic.Int64

	codec Codec
	log   *slog.Logger
}

// NewReceiver creates a Receiver that hands in-order messages to deliver
// and writes control messages to transport. deliver runs with the receiver
// locked; it may call Request but not Ack or Resync.
func NewReceiver(transport Transport, deliver func(*Message), opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		transport: transport,
		ackEvery:  DefaultAckEvery,
		gapAt:     -1,
		deliver:   deliver,
		codec:     JSON,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetTransport replaces the transport, e.g. after a reconnect.
func (r *Receiver) SetTransport(t Transport) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	r.transport = t
}

func (r *Receiver) currentTransport() Transport {
	r.tmu.RLock()
	defer r.tmu.RUnlock()
	return r.transport
}

// LastID returns the ID of the last message delivered in order.
func (r *Receiver) LastID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID
}

// Receive handles bytes from the emitting side.
func (r *Receiver) Receive(data []byte) {
	var msg Message
	if err := r.codec.Unmarshal(data, &msg); err != nil {
		r.log.Warn("dropping malformed message", "error", err)
		return
	}
	if msg.IsControl() {
		r.log.Debug("ignoring control message from emitter", "type", msg.Type)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case msg.ID <= r.lastID:
		// Duplicate from a retransmission. Re-ack so the emitter can prune.
		r.log.Debug("dropping duplicate", "id", msg.ID, "last", r.lastID)
		_ = r.sendControlLocked(TypeAck, r.lastID)
		return
	case msg.ID > r.lastID+1:
		switch {
		case r.gapAt != r.lastID:
			r.log.Debug("sequence gap, requesting retransmit", "id", msg.ID, "last", r.lastID)
			r.requestRetransmitLocked(msg.ID)
		case msg.ID <= r.gapHigh:
			r.log.Debug("gap still open after retransmission, requesting again", "id", msg.ID, "last", r.lastID)
			r.requestRetransmitLocked(msg.ID)
		default:
			r.gapHigh = msg.ID
		}
		return
	}

	r.lastID = msg.ID
	r.gapAt = -1
	r.gapHigh = 0
	if r.deliver != nil {
		r.deliver(&msg)
	}
	r.sinceAck++
	if r.sinceAck >= r.ackEvery {
		_ = r.sendControlLocked(TypeAck, r.lastID)
	}
}

// Ack acknowledges everything delivered so far.
func (r *Receiver) Ack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendControlLocked(TypeAck, r.lastID)
}

// Resync asks the emitter to resend everything after the last delivered
// message. Call it after every (re)connect.
func (r *Receiver) Resync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.sendControlLocked(TypeRetransmit, r.lastID)
	if err == nil {
		r.gapAt = r.lastID
		r.gapHigh = 0
	}
	return err
}

// requestRetransmitLocked asks for everything after lastID. seen is the
// out-of-order ID that prompted the request. Caller must hold r.mu.
func (r *Receiver) requestRetransmitLocked(seen int64) {
	if err := r.sendControlLocked(TypeRetransmit, r.lastID); err != nil {
		return
	}
	r.gapAt = r.lastID
	r.gapHigh = seen
}

// Request sends an observer request and returns its correlation ID.
func (r *Receiver) Request(method string, params any) (int64, error) {
	msg := Message{ID: r.requestID.Add(1), Method: method}
	if params != nil {
		data, err := r.codec.Marshal(params)
		if err != nil {
			return 0, fmt.Errorf("encode params for %s: %w", method, err)
		}
		msg.Params = Raw(data)
	}
	data, err := r.codec.Marshal(&msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	t := r.currentTransport()
	if t == nil {
		return 0, ErrNotConnected
	}
	return msg.ID, t.Send(data)
}

// Decode decodes a raw value from a delivered message with the receiver's
// codec.
func (r *Receiver) Decode(raw Raw, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return r.codec.Unmarshal(raw, v)
}

// sendControlLocked writes a control message. Caller must hold r.mu.
func (r *Receiver) sendControlLocked(typ string, id int64) error {
	if typ == TypeAck {
		r.sinceAck = 0
	}
	t := r.currentTransport()
	if t == nil {
		return ErrNotConnected
	}
	data, err := r.codec.Marshal(&Message{ID: id, Type: typ})
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	return t.Send(data)
}

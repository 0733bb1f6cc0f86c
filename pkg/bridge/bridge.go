package bridge

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/getmockd/netinspect/pkg/logging"
)

// Transport is the lossy primitive the bridge sends on. Send must not block
// for long: the bridge calls it while holding its queue lock so that
// transmission order matches sequence order. An error means the message was
// not delivered; the bridge keeps it queued.
type Transport interface {
	Send(data []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(data []byte) error

// Send implements Transport.
func (f TransportFunc) Send(data []byte) error { return f(data) }

// Overflow selects what happens when a capped queue is full.
type Overflow string

// Overflow policies.
const (
	// OverflowDropOldest discards the oldest unacknowledged message.
	OverflowDropOldest Overflow = "drop-oldest"
	// OverflowReject refuses the new message with ErrQueueFull.
	OverflowReject Overflow = "reject"
)

// ParseOverflow parses an overflow policy name. Empty selects
// OverflowDropOldest.
func ParseOverflow(s string) (Overflow, error) {
	switch Overflow(s) {
	case "", OverflowDropOldest:
		return OverflowDropOldest, nil
	case OverflowReject:
		return OverflowReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOverflow, s)
	}
}

// Hooks receives notifications for metrics. Any field may be nil.
// Hooks are called with the bridge lock held and must not call back into
// the bridge.
type Hooks struct {
	OnSend       func(method string)
	OnRetransmit func(count int)
	OnDrop       func(id int64)
	OnAck        func(pruned int)
}

// Stats is a snapshot of the bridge state.
type Stats struct {
	NextID        int64 `json:"nextId"`
	Unacked       int   `json:"unacked"`
	Sent          int64 `json:"sent"`
	Retransmitted int64 `json:"retransmitted"`
	Dropped       int64 `json:"dropped"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCodec sets the wire codec. Defaults to JSON.
func WithCodec(codec Codec) Option {
	return func(b *Bridge) {
		if codec != nil {
			b.codec = codec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.log = logger
		}
	}
}

// WithMaxUnacked caps the unacknowledged queue. Zero or less means
// unbounded.
func WithMaxUnacked(limit int, policy Overflow) Option {
	return func(b *Bridge) {
		b.maxUnacked = limit
		b.overflow = policy
	}
}

// WithHooks installs metric hooks.
func WithHooks(h Hooks) Option {
	return func(b *Bridge) {
		b.hooks = h
	}
}

// HandlerFunc handles a request from the observer. Panics are recovered.
type HandlerFunc func(req *Request)

type queued struct {
	id     int64
	method string
	data   []byte
}

// Bridge is the emitting side of the protocol. All methods are safe for
// concurrent use.
type Bridge struct {
	mu         sync.Mutex
	transport  Transport
	nextID     int64
	unacked    []queued
	maxUnacked int
	overflow   Overflow

	sent          int64
	retransmitted int64
	dropped       int64

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	codec Codec
	hooks Hooks
	log   *slog.Logger
}

// New creates a Bridge sending on transport. transport may be nil until a
// peer connects; messages sent meanwhile are queued.
func New(transport Transport, opts ...Option) *Bridge {
	b := &Bridge{
		transport: transport,
		nextID:    1,
		overflow:  OverflowDropOldest,
		handlers:  make(map[string]HandlerFunc),
		codec:     JSON,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Codec returns the wire codec.
func (b *Bridge) Codec() Codec {
	return b.codec
}

// SetTransport replaces the transport, e.g. after the observer reconnects.
// Queued messages are kept; the observer is expected to ask for
// retransmission. nil marks the bridge disconnected.
func (b *Bridge) SetTransport(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transport = t
}

// Send queues and transmits a domain event. The returned ID is the
// message's sequence ID. A transmission failure is not an error: the message
// stays queued until acknowledged.
func (b *Bridge) Send(method string, params any) (int64, error) {
	raw, err := b.encodeRaw(params)
	if err != nil {
		return 0, fmt.Errorf("encode params for %s: %w", method, err)
	}
	return b.enqueue(Message{Method: method, Params: raw})
}

// Reply sends the answer to an observer request. correlationID is the ID the
// observer gave its request. Exactly one of result and errText should be set.
func (b *Bridge) Reply(method string, correlationID int64, result any, errText string) (int64, error) {
	msg := Message{Method: method, CorrelationID: correlationID, Error: errText}
	if errText == "" {
		raw, err := b.encodeRaw(result)
		if err != nil {
			return 0, fmt.Errorf("encode result for %s: %w", method, err)
		}
		msg.Result = raw
	}
	return b.enqueue(msg)
}

func (b *Bridge) encodeRaw(v any) (Raw, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(Raw); ok {
		return raw, nil
	}
	data, err := b.codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Raw(data), nil
}

func (b *Bridge) enqueue(msg Message) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxUnacked > 0 && len(b.unacked) >= b.maxUnacked {
		if b.overflow == OverflowReject {
			return 0, ErrQueueFull
		}
		dropped := b.unacked[0]
		b.unacked = slices.Delete(b.unacked, 0, 1)
		b.dropped++
		b.log.Warn("unacknowledged queue full, dropping oldest message",
			"id", dropped.id, "method", dropped.method, "limit", b.maxUnacked)
		if b.hooks.OnDrop != nil {
			b.hooks.OnDrop(dropped.id)
		}
	}

	msg.ID = b.nextID
	data, err := b.codec.Marshal(&msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	b.nextID++
	b.unacked = append(b.unacked, queued{id: msg.ID, method: msg.Method, data: data})
	b.sent++
	if b.hooks.OnSend != nil {
		b.hooks.OnSend(msg.Method)
	}
	b.transmitLocked(msg.ID, data)
	return msg.ID, nil
}

// transmitLocked hands data to the transport. Caller must hold b.mu.
func (b *Bridge) transmitLocked(id int64, data []byte) {
	if b.transport == nil {
		return
	}
	if err := b.transport.Send(data); err != nil {
		b.log.Debug("transmit failed, message stays queued", "id", id, "error", err)
	}
}

// Receive handles bytes arriving from the observer. Malformed input is
// logged and dropped; it never panics.
func (b *Bridge) Receive(data []byte) {
	var msg Message
	if err := b.codec.Unmarshal(data, &msg); err != nil {
		b.log.Warn("dropping malformed message", "error", err, "size", len(data))
		return
	}

	switch msg.Type {
	case TypeAck:
		b.Ack(msg.ID)
	case TypeRetransmit:
		b.Retransmit(msg.ID)
	case "":
		if msg.Method == "" {
			b.log.Warn("dropping message without method", "id", msg.ID)
			return
		}
		b.dispatch(&msg)
	default:
		b.log.Warn("dropping message with unknown type", "type", msg.Type, "id", msg.ID)
	}
}

// Ack confirms every queued message with an ID at or below id.
func (b *Bridge) Ack(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := sort.Search(len(b.unacked), func(i int) bool { return b.unacked[i].id > id })
	if n == 0 {
		return
	}
	b.unacked = slices.Delete(b.unacked, 0, n)
	if b.hooks.OnAck != nil {
		b.hooks.OnAck(n)
	}
}

// Retransmit resends, in order and unchanged, every queued message with an
// ID greater than id.
func (b *Bridge) Retransmit(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := sort.Search(len(b.unacked), func(i int) bool { return b.unacked[i].id > id })
	count := len(b.unacked) - start
	for _, q := range b.unacked[start:] {
		b.transmitLocked(q.id, q.data)
	}
	b.retransmitted += int64(count)
	if count > 0 {
		b.log.Debug("retransmitted messages", "after", id, "count", count)
	}
	if b.hooks.OnRetransmit != nil {
		b.hooks.OnRetransmit(count)
	}
}

// Handle registers the handler for an observer request method, replacing
// any previous one.
func (b *Bridge) Handle(method string, fn HandlerFunc) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[method] = fn
}

func (b *Bridge) dispatch(msg *Message) {
	b.handlersMu.RLock()
	fn, ok := b.handlers[msg.Method]
	b.handlersMu.RUnlock()
	if !ok {
		b.log.Debug("no handler for method", "method", msg.Method, "id", msg.ID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", "method", msg.Method, "id", msg.ID, "panic", r)
		}
	}()
	fn(&Request{ID: msg.ID, Method: msg.Method, Params: msg.Params, bridge: b})
}

// Unacked returns the IDs of queued messages, oldest first.
func (b *Bridge) Unacked() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, len(b.unacked))
	for i, q := range b.unacked {
		ids[i] = q.id
	}
	return ids
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		NextID:        b.nextID,
		Unacked:       len(b.unacked),
		Sent:          b.sent,
		Retransmitted: b.retransmitted,
		Dropped:       b.dropped,
	}
}

// Request is an observer request delivered to a handler.
type Request struct {
	// ID is the observer's own ID for the request, echoed as correlationId.
	ID     int64
	Method string
	Params Raw

	bridge *Bridge
}

// Decode decodes the request params into v.
func (r *Request) Decode(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	return r.bridge.codec.Unmarshal(r.Params, v)
}

// Reply answers the request with result.
func (r *Request) Reply(result any) error {
	_, err := r.bridge.Reply(r.Method, r.ID, result, "")
	return err
}

// Fail answers the request with an error message.
func (r *Request) Fail(errText string) error {
	_, err := r.bridge.Reply(r.Method, r.ID, nil, errText)
	return err
}

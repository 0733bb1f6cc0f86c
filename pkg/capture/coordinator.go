package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/logging"
	"github.com/getmockd/netinspect/pkg/netevent"
)

// NotFoundMessage is the error text replied to a body pull for an unknown,
// already served, evicted, or non-text request.
const NotFoundMessage = "No data found for resource with given identifier"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithEnabled sets the initial capture state. Capture starts enabled.
func WithEnabled(enabled bool) Option {
	return func(c *Coordinator) {
		c.enabled.Store(enabled)
	}
}

// WithPolicy sets the truncation policy used for request body previews.
func WithPolicy(p netevent.Policy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithOnBodyServed registers a callback invoked after every body pull with
// whether a body was found.
func WithOnBodyServed(fn func(found bool)) Option {
	return func(c *Coordinator) {
		c.onServed = fn
	}
}

// requestState tracks one request between RequestStarted and its end.
type requestState struct {
	resType     string
	startedAt   time.Time
	firstByteAt time.Time
	dataLength  int64
	encodedLen  int64
}

// Coordinator implements Sink on top of a bridge and a body store.
type Coordinator struct {
	bridge *bridge.Bridge
	store  *bodystore.Store

	enabled atomic.Bool

	mu       sync.Mutex
	requests map[string]*requestState

	ctx    context.Context
	cancel context.CancelFunc

	policy   netevent.Policy
	now      func() time.Time
	onServed func(found bool)
	log      *slog.Logger
}

var _ Sink = (*Coordinator)(nil)

// New creates a Coordinator and registers the Network.enable,
// Network.disable and Network.getResponseBody handlers on b.
func New(b *bridge.Bridge, store *bodystore.Store, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		bridge:   b,
		store:    store,
		requests: make(map[string]*requestState),
		ctx:      ctx,
		cancel:   cancel,
		policy:   netevent.DefaultPolicy(),
		now:      time.Now,
		log:      logging.Nop(),
	}
	c.enabled.Store(true)
	for _, opt := range opts {
		opt(c)
	}

	b.Handle(netevent.MethodEnable, c.handleEnable)
	b.Handle(netevent.MethodDisable, c.handleDisable)
	b.Handle(netevent.MethodGetResponseBody, c.handleGetResponseBody)
	return c
}

// Enabled reports whether capture is on.
func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// SetEnabled turns capture on or off. Turning it off clears buffered bodies
// and forgets in-flight requests. The flag flips under c.mu so a completion
// racing with a disable cannot buffer a body after the store was cleared.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	was := c.enabled.Swap(enabled)
	if !enabled {
		clear(c.requests)
		c.store.Clear()
	}
	c.mu.Unlock()

	switch {
	case enabled && !was:
		c.log.Info("network capture enabled")
	case !enabled && was:
		c.log.Info("network capture disabled")
	}
}

// InFlight returns the number of requests that have started but not ended.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Close cancels body pulls that are still waiting on a producer.
func (c *Coordinator) Close() error {
	c.cancel()
	return nil
}

// RequestStarted implements Sink.
func (c *Coordinator) RequestStarted(req netevent.Request) {
	if !c.Enabled() {
		return
	}
	if req.ID == "" {
		c.log.Warn("ignoring request without id", "url", req.URL)
		return
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = c.now()
	}

	c.mu.Lock()
	if !c.enabled.Load() {
		c.mu.Unlock()
		return
	}
	c.requests[req.ID] = &requestState{resType: req.Type, startedAt: req.StartedAt}
	c.mu.Unlock()

	c.send(netevent.MethodRequestWillBeSent, netevent.EncodeRequestWillBeSent(req, c.policy))
}

// ResponseReceived implements Sink.
func (c *Coordinator) ResponseReceived(requestID string, resp netevent.Response) {
	if !c.Enabled() {
		return
	}
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = c.now()
	}

	c.mu.Lock()
	st, ok := c.requests[requestID]
	var snapshot requestState
	if ok {
		if st.firstByteAt.IsZero() {
			st.firstByteAt = resp.ReceivedAt
		}
		snapshot = *st
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug("response for untracked request", "requestId", requestID)
		return
	}

	c.send(netevent.MethodResponseReceived,
		netevent.EncodeResponseReceived(requestID, resp, snapshot.resType, snapshot.startedAt))
}

// DataReceived implements Sink.
func (c *Coordinator) DataReceived(requestID string, dataLength, encodedLength int64) {
	if !c.Enabled() {
		return
	}
	at := c.now()

	c.mu.Lock()
	st, ok := c.requests[requestID]
	var total int64
	if ok {
		if st.firstByteAt.IsZero() {
			st.firstByteAt = at
		}
		st.dataLength += dataLength
		st.encodedLen += encodedLength
		total = st.dataLength
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.send(netevent.MethodDataReceived,
		netevent.EncodeDataReceived(requestID, at, dataLength, encodedLength, total))
}

// Completed implements Sink. The body is registered with the store before
// loadingFinished is sent, so an observer reacting to the event finds it.
func (c *Coordinator) Completed(requestID string, body bodystore.Producer) {
	if !c.Enabled() {
		return
	}
	at := c.now()

	c.mu.Lock()
	st, ok := c.finishLocked(requestID)
	if ok && body != nil {
		c.store.Put(c.ctx, requestID, body)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug("completion for untracked request", "requestId", requestID)
		return
	}

	var ttfb time.Duration
	if !st.firstByteAt.IsZero() {
		ttfb = st.firstByteAt.Sub(st.startedAt)
	}
	c.send(netevent.MethodLoadingFinished,
		netevent.EncodeLoadingFinished(requestID, at, st.encodedLen, at.Sub(st.startedAt), ttfb))
}

// Failed implements Sink.
func (c *Coordinator) Failed(requestID string, err error) {
	errText := "net::ERR_FAILED"
	if err != nil {
		errText = err.Error()
	}
	c.fail(requestID, errText, false)
}

// Aborted implements Sink.
func (c *Coordinator) Aborted(requestID string) {
	c.fail(requestID, "", true)
}

func (c *Coordinator) fail(requestID, errText string, canceled bool) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	st, ok := c.finishLocked(requestID)
	c.store.Remove(requestID)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.send(netevent.MethodLoadingFailed,
		netevent.EncodeLoadingFailed(requestID, c.now(), st.resType, errText, canceled))
}

// finishLocked forgets requestID and returns its state. It reports false
// when the request is unknown or capture has been turned off.
// Caller must hold c.mu.
func (c *Coordinator) finishLocked(requestID string) (requestState, bool) {
	if !c.enabled.Load() {
		return requestState{}, false
	}
	st, ok := c.requests[requestID]
	if !ok {
		return requestState{}, false
	}
	delete(c.requests, requestID)
	return *st, true
}

func (c *Coordinator) send(method string, params any) {
	if _, err := c.bridge.Send(method, params); err != nil {
		c.log.Warn("failed to send event", "method", method, "error", err)
	}
}

func (c *Coordinator) handleEnable(req *bridge.Request) {
	c.SetEnabled(true)
	c.reply(req, struct{}{})
}

func (c *Coordinator) handleDisable(req *bridge.Request) {
	c.SetEnabled(false)
	c.reply(req, struct{}{})
}

// handleGetResponseBody detaches the body and answers once it resolves.
// Waiting happens off the receive path so a slow producer cannot stall
// acknowledgments.
func (c *Coordinator) handleGetResponseBody(req *bridge.Request) {
	var params netevent.GetResponseBodyParams
	if err := req.Decode(&params); err != nil {
		c.log.Warn("malformed getResponseBody params", "error", err)
		c.failReply(req, NotFoundMessage)
		return
	}

	p := c.store.Get(params.RequestID)
	if p == nil {
		c.served(false)
		c.failReply(req, NotFoundMessage)
		return
	}

	go func() {
		body, err := p.Wait(c.ctx)
		if err != nil || body == nil {
			c.served(false)
			c.failReply(req, NotFoundMessage)
			return
		}
		c.served(true)
		c.reply(req, netevent.GetResponseBodyResult{
			Body:         body.Text,
			WasTruncated: body.Truncated,
		})
	}()
}

func (c *Coordinator) served(found bool) {
	if c.onServed != nil {
		c.onServed(found)
	}
}

func (c *Coordinator) reply(req *bridge.Request, result any) {
	if err := req.Reply(result); err != nil {
		c.log.Warn("failed to reply", "method", req.Method, "error", err)
	}
}

func (c *Coordinator) failReply(req *bridge.Request, errText string) {
	if err := req.Fail(errText); err != nil {
		c.log.Warn("failed to reply", "method", req.Method, "error", err)
	}
}

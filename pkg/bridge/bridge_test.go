package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultWait  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (r *recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

func (r *recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func decodeAll(t *testing.T, frames [][]byte) []Message {
	t.Helper()
	out := make([]Message, len(frames))
	for i, f := range frames {
		require.NoError(t, json.Unmarshal(f, &out[i]))
	}
	return out
}

func ids(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func sendN(t *testing.T, b *Bridge, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := b.Send("Network.dataReceived", map[string]int{"n": i})
		require.NoError(t, err)
	}
}

func TestBridge_SendAssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)

	for want := int64(1); want <= 3; want++ {
		id, err := b.Send("Network.requestWillBeSent", map[string]string{"requestId": "r"})
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	msgs := decodeAll(t, rec.Frames())
	assert.Equal(t, []int64{1, 2, 3}, ids(msgs))
	assert.Equal(t, "Network.requestWillBeSent", msgs[0].Method)
	assert.JSONEq(t, `{"requestId":"r"}`, string(msgs[0].Params))
	assert.Equal(t, []int64{1, 2, 3}, b.Unacked())
}

func TestBridge_WireEnvelope(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)
	_, err := b.Send("Network.loadingFinished", map[string]any{"requestId": "r1"})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"id":1,"method":"Network.loadingFinished","params":{"requestId":"r1"}}`,
		string(rec.Frames()[0]))
}

func TestBridge_CumulativeAck(t *testing.T) {
	t.Parallel()
	b := New(&recorder{})
	sendN(t, b, 5)

	b.Ack(3)
	assert.Equal(t, []int64{4, 5}, b.Unacked())

	// Idempotent and tolerant of stale acks.
	b.Ack(3)
	b.Ack(1)
	assert.Equal(t, []int64{4, 5}, b.Unacked())

	b.Ack(100)
	assert.Empty(t, b.Unacked())
}

func TestBridge_RetransmitResendsVerbatim(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)
	sendN(t, b, 5)
	original := rec.Frames()

	b.Ack(3)
	rec.Reset()
	b.Retransmit(3)

	resent := rec.Frames()
	require.Len(t, resent, 2)
	assert.Equal(t, original[3], resent[0])
	assert.Equal(t, original[4], resent[1])
	assert.Equal(t, []int64{4, 5}, ids(decodeAll(t, resent)))
	assert.Equal(t, int64(2), b.Stats().Retransmitted)
}

func TestBridge_RetransmitWithoutAck(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)
	sendN(t, b, 5)
	rec.Reset()

	b.Retransmit(3)
	assert.Equal(t, []int64{4, 5}, ids(decodeAll(t, rec.Frames())))
	// Retransmission does not confirm anything.
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, b.Unacked())

	rec.Reset()
	b.Retransmit(5)
	assert.Empty(t, rec.Frames())
}

func TestBridge_ControlMessagesOverReceive(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)
	sendN(t, b, 5)

	b.Receive([]byte(`{"id":3,"type":"ack"}`))
	assert.Equal(t, []int64{4, 5}, b.Unacked())

	rec.Reset()
	b.Receive([]byte(`{"id":3,"type":"retransmit"}`))
	assert.Equal(t, []int64{4, 5}, ids(decodeAll(t, rec.Frames())))
}

func TestBridge_MalformedInputIsIgnored(t *testing.T) {
	t.Parallel()
	b := New(&recorder{})
	sendN(t, b, 2)

	assert.NotPanics(t, func() {
		b.Receive([]byte("not json"))
		b.Receive(nil)
		b.Receive([]byte(`{"id":1,"type":"bogus"}`))
		b.Receive([]byte(`{"id":1}`))
		b.Receive([]byte(`{"id":"one","type":"ack"}`))
	})
	assert.Equal(t, []int64{1, 2}, b.Unacked())
}

func TestBridge_DisconnectedQueuesUntilRetransmit(t *testing.T) {
	t.Parallel()
	b := New(nil)
	sendN(t, b, 3)
	assert.Equal(t, []int64{1, 2, 3}, b.Unacked())

	rec := &recorder{}
	b.SetTransport(rec)
	assert.Empty(t, rec.Frames())

	b.Retransmit(0)
	assert.Equal(t, []int64{1, 2, 3}, ids(decodeAll(t, rec.Frames())))
}

func TestBridge_TransportErrorKeepsMessageQueued(t *testing.T) {
	t.Parallel()
	rec := &recorder{err: errors.New("socket closed")}
	b := New(rec)

	id, err := b.Send("Network.enable", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, []int64{1}, b.Unacked())
}

func TestBridge_MaxUnackedDropOldest(t *testing.T) {
	t.Parallel()
	var dropped []int64
	b := New(&recorder{},
		WithMaxUnacked(3, OverflowDropOldest),
		WithHooks(Hooks{OnDrop: func(id int64) { dropped = append(dropped, id) }}),
	)
	sendN(t, b, 5)

	assert.Equal(t, []int64{3, 4, 5}, b.Unacked())
	assert.Equal(t, []int64{1, 2}, dropped)
	assert.Equal(t, int64(2), b.Stats().Dropped)
}

func TestBridge_MaxUnackedReject(t *testing.T) {
	t.Parallel()
	b := New(&recorder{}, WithMaxUnacked(2, OverflowReject))
	sendN(t, b, 2)

	_, err := b.Send("Network.dataReceived", nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, []int64{1, 2}, b.Unacked())

	// The rejected message did not consume an ID.
	b.Ack(1)
	id, err := b.Send("Network.dataReceived", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestBridge_HandlerDispatchAndReply(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)

	type params struct {
		RequestID string `json:"requestId"`
	}
	var got params
	b.Handle("Network.getResponseBody", func(req *Request) {
		require.NoError(t, req.Decode(&got))
		assert.Equal(t, int64(42), req.ID)
		require.NoError(t, req.Reply(map[string]string{"body": "hi"}))
	})

	b.Receive([]byte(`{"id":42,"method":"Network.getResponseBody","params":{"requestId":"r9"}}`))
	assert.Equal(t, "r9", got.RequestID)

	msgs := decodeAll(t, rec.Frames())
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(42), msgs[0].CorrelationID)
	assert.JSONEq(t, `{"body":"hi"}`, string(msgs[0].Result))
}

func TestBridge_FailReply(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)
	b.Handle("Network.getResponseBody", func(req *Request) {
		_ = req.Fail("not found")
	})
	b.Receive([]byte(`{"id":7,"method":"Network.getResponseBody"}`))

	msgs := decodeAll(t, rec.Frames())
	require.Len(t, msgs, 1)
	assert.Equal(t, "not found", msgs[0].Error)
	assert.Empty(t, msgs[0].Result)
	assert.Equal(t, int64(7), msgs[0].CorrelationID)
}

func TestBridge_HandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()
	b := New(&recorder{})
	b.Handle("Network.enable", func(*Request) { panic("boom") })

	assert.NotPanics(t, func() {
		b.Receive([]byte(`{"id":1,"method":"Network.enable"}`))
	})
	// Unknown methods are dropped quietly.
	assert.NotPanics(t, func() {
		b.Receive([]byte(`{"id":2,"method":"Page.reload"}`))
	})
}

func TestBridge_Hooks(t *testing.T) {
	t.Parallel()
	var sent []string
	var pruned, resent int
	b := New(&recorder{}, WithHooks(Hooks{
		OnSend:       func(m string) { sent = append(sent, m) },
		OnAck:        func(n int) { pruned += n },
		OnRetransmit: func(n int) { resent += n },
	}))
	sendN(t, b, 3)
	b.Ack(2)
	b.Retransmit(2)

	assert.Len(t, sent, 3)
	assert.Equal(t, 2, pruned)
	assert.Equal(t, 1, resent)
}

func TestBridge_ConcurrentSendKeepsOrder(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := New(rec)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = b.Send("Network.dataReceived", nil)
			}
		}()
	}
	wg.Wait()

	got := ids(decodeAll(t, rec.Frames()))
	require.Len(t, got, 200)
	for i, id := range got {
		assert.Equal(t, int64(i+1), id)
	}
}

func TestParseOverflow(t *testing.T) {
	t.Parallel()
	p, err := ParseOverflow("")
	require.NoError(t, err)
	assert.Equal(t, OverflowDropOldest, p)

	p, err = ParseOverflow("reject")
	require.NoError(t, err)
	assert.Equal(t, OverflowReject, p)

	_, err = ParseOverflow("block")
	assert.ErrorIs(t, err, ErrUnknownOverflow)
}

func TestCodecByName(t *testing.T) {
	t.Parallel()
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())
	assert.False(t, c.Binary())

	c, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, CodecCBOR, c.Name())
	assert.True(t, c.Binary())

	_, err = CodecByName("msgpack")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

package wstransport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"

	"github.com/getmockd/netinspect/internal/id"
)

const (
	// DefaultQueueSize is the number of outbound frames buffered per
	// connection before Send starts refusing.
	DefaultQueueSize = 1024

	// DefaultPingInterval is how often an idle connection is pinged.
	DefaultPingInterval = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// session is one websocket connection used as a bridge transport. Send
// never blocks: frames are queued and written by a dedicated goroutine.
type session struct {
	id       string
	conn     *ws.Conn
	msgType  ws.MessageType
	out      chan []byte
	ping     time.Duration
	log      *slog.Logger
	openedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.RWMutex // coordinates Send with close
	closed atomic.Bool
	sent   atomic.Int64
	recv   atomic.Int64
}

func newSession(conn *ws.Conn, binary bool, queueSize int, ping time.Duration, log *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	msgType := ws.MessageText
	if binary {
		msgType = ws.MessageBinary
	}
	sid := id.UUID()
	return &session{
		id:       sid,
		conn:     conn,
		msgType:  msgType,
		out:      make(chan []byte, queueSize),
		ping:     ping,
		log:      log.With("session", sid),
		openedAt: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send implements bridge.Transport.
func (s *session) Send(data []byte) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case s.out <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// writeLoop drains the outbound queue and keeps the connection alive.
func (s *session) writeLoop() {
	var tick <-chan time.Time
	if s.ping > 0 {
		ticker := time.NewTicker(s.ping)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.out:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Write(ctx, s.msgType, data)
			cancel()
			if err != nil {
				s.log.Debug("write failed", "error", err)
				s.close(ws.StatusInternalError, "write failed")
				return
			}
			s.sent.Add(1)
		case <-tick:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				s.log.Debug("ping failed", "error", err)
				s.close(ws.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

// readLoop hands every inbound frame to receive until the connection ends.
func (s *session) readLoop(receive func([]byte)) error {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return err
		}
		s.recv.Add(1)
		receive(data)
	}
}

// close is idempotent.
func (s *session) close(code ws.StatusCode, reason string) {
	s.sendMu.Lock()
	if s.closed.Swap(true) {
		s.sendMu.Unlock()
		return
	}
	s.sendMu.Unlock()

	s.cancel()
	_ = s.conn.Close(code, reason)
}

// Info describes a connection.
type Info struct {
	SessionID string    `json:"sessionId"`
	OpenedAt  time.Time `json:"openedAt"`
	Sent      int64     `json:"sent"`
	Received  int64     `json:"received"`
}

func (s *session) info() Info {
	return Info{
		SessionID: s.id,
		OpenedAt:  s.openedAt,
		Sent:      s.sent.Load(),
		Received:  s.recv.Load(),
	}
}

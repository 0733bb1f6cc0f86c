package wstransport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/logging"
)

// DefaultServerReadLimit bounds inbound frames from the observer, which
// only sends control messages and small requests.
const DefaultServerReadLimit = 1 << 20

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithQueueSize sets the per-connection outbound queue size.
func WithQueueSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithPingInterval sets the keepalive interval. Zero disables pings.
func WithPingInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.ping = d
	}
}

// WithOriginPatterns sets the allowed cross-origin hosts.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) {
		s.accept.OriginPatterns = patterns
	}
}

// WithConnectHook registers callbacks for observer connects and disconnects.
func WithConnectHook(onConnect, onDisconnect func(Info)) ServerOption {
	return func(s *Server) {
		s.onConnect = onConnect
		s.onDisconnect = onDisconnect
	}
}

// Server exposes a bridge to one observer over websocket. A newer
// connection replaces the current one; the bridge queue survives the switch
// and the new observer is expected to ask for retransmission.
type Server struct {
	bridge    *bridge.Bridge
	accept    ws.AcceptOptions
	queueSize int
	ping      time.Duration

	mu      sync.Mutex
	current *session

	onConnect    func(Info)
	onDisconnect func(Info)
	log          *slog.Logger
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a Server for b.
func NewServer(b *bridge.Bridge, opts ...ServerOption) *Server {
	s := &Server{
		bridge:    b,
		queueSize: DefaultQueueSize,
		ping:      DefaultPingInterval,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the observer until it
// disconnects or is replaced.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &s.accept)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(DefaultServerReadLimit)

	sess := newSession(conn, s.bridge.Codec().Binary(), s.queueSize, s.ping, s.log)

	s.mu.Lock()
	previous := s.current
	s.current = sess
	s.bridge.SetTransport(sess)
	s.mu.Unlock()

	if previous != nil {
		previous.log.Info("observer replaced by newer connection")
		previous.close(ws.StatusPolicyViolation, "replaced by newer connection")
	}

	sess.log.Info("observer connected", "remoteAddr", r.RemoteAddr)
	if s.onConnect != nil {
		s.onConnect(sess.info())
	}

	go sess.writeLoop()
	err = sess.readLoop(s.bridge.Receive)

	s.mu.Lock()
	if s.current == sess {
		s.current = nil
		s.bridge.SetTransport(nil)
	}
	s.mu.Unlock()

	sess.close(ws.StatusNormalClosure, "")
	sess.log.Info("observer disconnected", "reason", closeReason(err))
	if s.onDisconnect != nil {
		s.onDisconnect(sess.info())
	}
}

// Connected returns the current observer connection, if any.
func (s *Server) Connected() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Info{}, false
	}
	return s.current.info(), true
}

// Close disconnects the current observer.
func (s *Server) Close() error {
	s.mu.Lock()
	sess := s.current
	s.current = nil
	s.bridge.SetTransport(nil)
	s.mu.Unlock()

	if sess != nil {
		sess.close(ws.StatusGoingAway, "server shutting down")
	}
	return nil
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	if status := ws.CloseStatus(err); status != -1 {
		return status.String()
	}
	return err.Error()
}

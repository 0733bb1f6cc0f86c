package intercept

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/netinspect/pkg/bodystore"
	"github.com/getmockd/netinspect/pkg/netevent"
)

const (
	defaultWait  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

type event struct {
	kind string
	id   string
	req  netevent.Request
	resp netevent.Response
	n    int64
	err  error
	body bodystore.Producer
}

// sinkRecorder is a capture.Sink that records every callback.
type sinkRecorder struct {
	mu     sync.Mutex
	events []event
}

func (s *sinkRecorder) add(e event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sinkRecorder) RequestStarted(req netevent.Request) {
	s.add(event{kind: "started", id: req.ID, req: req})
}

func (s *sinkRecorder) ResponseReceived(id string, resp netevent.Response) {
	s.add(event{kind: "response", id: id, resp: resp})
}

func (s *sinkRecorder) DataReceived(id string, n, _ int64) {
	s.add(event{kind: "data", id: id, n: n})
}

func (s *sinkRecorder) Completed(id string, body bodystore.Producer) {
	s.add(event{kind: "completed", id: id, body: body})
}

func (s *sinkRecorder) Failed(id string, err error) {
	s.add(event{kind: "failed", id: id, err: err})
}

func (s *sinkRecorder) Aborted(id string) {
	s.add(event{kind: "aborted", id: id})
}

func (s *sinkRecorder) Events() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event(nil), s.events...)
}

// Kinds returns event kinds with consecutive data events collapsed.
func (s *sinkRecorder) Kinds() []string {
	var out []string
	for _, e := range s.Events() {
		if e.kind == "data" && len(out) > 0 && out[len(out)-1] == "data" {
			continue
		}
		out = append(out, e.kind)
	}
	return out
}

func (s *sinkRecorder) find(kind string) (event, bool) {
	for _, e := range s.Events() {
		if e.kind == kind {
			return e, true
		}
	}
	return event{}, false
}

func (s *sinkRecorder) waitFor(t *testing.T, kind string) event {
	t.Helper()
	var found event
	require.Eventually(t, func() bool {
		e, ok := s.find(kind)
		found = e
		return ok
	}, defaultWait, pollInterval)
	return found
}

func (s *sinkRecorder) dataTotal() int64 {
	var total int64
	for _, e := range s.Events() {
		if e.kind == "data" {
			total += e.n
		}
	}
	return total
}

func produce(t *testing.T, p bodystore.Producer) *bodystore.Body {
	t.Helper()
	require.NotNil(t, p)
	body, err := p(context.Background())
	require.NoError(t, err)
	return body
}

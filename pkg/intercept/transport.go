package intercept

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/netinspect/pkg/capture"
	"github.com/getmockd/netinspect/pkg/netevent"
)

var (
	_ capture.Source    = (*Transport)(nil)
	_ capture.Source    = (*Proxy)(nil)
	_ http.RoundTripper = (*Transport)(nil)
	_ http.Handler      = (*Proxy)(nil)
)

// Transport is an http.RoundTripper that reports every request it carries.
type Transport struct {
	*source
	base http.RoundTripper
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, opts Options) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	opts = opts.withDefaults("client", netevent.DefaultPolicy())
	return &Transport{source: newSource(opts), base: base}
}

// RoundTrip implements http.RoundTripper. The response body is wrapped so
// that reading it reports chunks and its end; callers must read or close it
// as usual.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sink, filter := t.state()
	if !filter.ShouldCapture(req.Method, req.URL.Host, req.URL.Path, req.URL.String()) {
		return t.base.RoundTrip(req)
	}

	id := t.ids.Next()
	sink.RequestStarted(netevent.Request{
		ID:        id,
		URL:       req.URL.String(),
		Method:    req.Method,
		Headers:   req.Header.Clone(),
		Body:      t.requestBody(req),
		Type:      netevent.ResourceFetch,
		StartedAt: time.Now(),
	})

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		tr := t.track(req.Context(), sink, id, "", "")
		tr.end(err)
		return nil, err
	}

	sink.ResponseReceived(id, netevent.Response{
		URL:        req.URL.String(),
		Status:     resp.StatusCode,
		StatusText: statusText(resp.Status),
		Headers:    resp.Header.Clone(),
		Protocol:   strings.ToLower(resp.Proto),
		ReceivedAt: time.Now(),
	})

	tr := t.track(req.Context(), sink, id, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"))
	if resp.Body == nil || resp.Body == http.NoBody {
		tr.complete()
		return resp, nil
	}
	resp.Body = &captureBody{rc: resp.Body, tr: tr}
	return resp, nil
}

// requestBody returns a copy of the request body for the preview, without
// consuming req.Body. Only replayable bodies are previewed.
func (t *Transport) requestBody(req *http.Request) []byte {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		t.log.Debug("request body not replayable", "url", req.URL.String(), "error", err)
		return nil
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, t.maxCapture))
	if err != nil {
		return nil
	}
	return data
}

// statusText strips the code from an http.Response Status such as "200 OK".
func statusText(status string) string {
	if _, text, ok := strings.Cut(status, " "); ok {
		return text
	}
	return ""
}

// captureBody reports the response body as it is read.
type captureBody struct {
	rc io.ReadCloser
	tr *tracker

	mu     sync.Mutex
	closed bool
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.tr.chunk(p[:n])
	switch {
	case err == io.EOF:
		b.tr.complete()
	case err != nil:
		b.tr.end(err)
	}
	return n, err
}

// Close reports an abort if the body was not read to the end.
func (b *captureBody) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.tr.abort()
	return b.rc.Close()
}

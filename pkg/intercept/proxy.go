package intercept

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/getmockd/netinspect/pkg/netevent"
)

const (
	// dialTimeout bounds CONNECT tunnel dials.
	dialTimeout = 30 * time.Second
	// copyBufferSize is the chunk size used when streaming responses.
	copyBufferSize = 32 * 1024
)

// Proxy is a forward HTTP proxy that reports plain HTTP traffic.
type Proxy struct {
	*source
	client *http.Client
}

// NewProxy creates a Proxy. Bodies default to the proxy truncation policy.
func NewProxy(opts Options) *Proxy {
	opts = opts.withDefaults("proxy", netevent.ProxyPolicy())

	base := http.DefaultTransport.(*http.Transport).Clone()
	// Responses are relayed byte for byte; the body decoder undoes
	// Content-Encoding itself.
	base.DisableCompression = true
	base.Proxy = nil

	return &Proxy{
		source: newSource(opts),
		client: &http.Client{
			Transport: base,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP implements http.Handler for the proxy.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.tunnelConnect(w, r)
		return
	}
	p.handleHTTP(w, r)
}

// handleHTTP forwards a plain HTTP request and streams the response back,
// reporting it to the sink when the filter selects it.
func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	sink, filter := p.state()
	targetURL := r.URL.String()
	if r.URL.Host == "" {
		targetURL = "http://" + r.Host + r.URL.RequestURI()
	}
	captured := filter.ShouldCapture(r.Method, r.Host, r.URL.Path, targetURL)

	var id string
	if captured {
		id = p.ids.Next()
		sink.RequestStarted(netevent.Request{
			ID:        id,
			URL:       targetURL,
			Method:    r.Method,
			Headers:   r.Header.Clone(),
			Body:      p.peekBody(r),
			Type:      netevent.ResourceDocument,
			StartedAt: time.Now(),
		})
	}

	resp, err := p.forwardRequest(r, targetURL)
	if err != nil {
		p.log.Warn("forward failed", "url", targetURL, "error", err)
		if captured {
			p.track(r.Context(), sink, id, "", "").end(err)
		}
		http.Error(w, "Error forwarding request: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if captured {
		sink.ResponseReceived(id, netevent.Response{
			URL:        targetURL,
			Status:     resp.StatusCode,
			StatusText: statusText(resp.Status),
			Headers:    resp.Header.Clone(),
			Protocol:   strings.ToLower(resp.Proto),
			ReceivedAt: time.Now(),
		})
	}

	removeHopByHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if !captured {
		_, _ = io.Copy(w, resp.Body)
		return
	}

	tr := p.track(r.Context(), sink, id, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"))
	p.relay(w, resp.Body, tr)
	p.log.Debug("proxied", "method", r.Method, "url", targetURL, "status", resp.StatusCode)
}

// relay copies the upstream body to the client chunk by chunk.
func (p *Proxy) relay(w http.ResponseWriter, body io.Reader, tr *tracker) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			tr.chunk(buf[:n])
			if _, err := w.Write(buf[:n]); err != nil {
				// Client went away.
				tr.abort()
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			tr.complete()
			return
		}
		if readErr != nil {
			tr.end(readErr)
			return
		}
	}
}

// peekBody reads up to the capture limit of the request body for the
// preview and restores r.Body so the full body is still forwarded.
func (p *Proxy) peekBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, p.maxCapture))
	if err != nil {
		p.log.Debug("error reading request body", "error", err)
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return head
}

// forwardRequest sends r upstream.
func (p *Proxy) forwardRequest(r *http.Request, targetURL string) (*http.Response, error) {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		return nil, err
	}
	outReq.ContentLength = r.ContentLength

	copyHeaders(outReq.Header, r.Header)
	removeHopByHopHeaders(outReq.Header)

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	return p.client.Do(outReq)
}

// tunnelConnect creates a direct TCP tunnel for CONNECT. Tunneled traffic is
// not captured.
func (p *Proxy) tunnelConnect(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if !strings.Contains(host, ":") {
		host += ":443"
	}

	targetConn, err := net.DialTimeout("tcp", host, dialTimeout)
	if err != nil {
		p.log.Warn("error connecting to tunnel target", "host", host, "error", err)
		http.Error(w, "Error connecting to target", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = targetConn.Close()
		http.Error(w, "HTTP server does not support hijacking", http.StatusInternalServerError)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		p.log.Warn("error hijacking connection", "error", err)
		_ = targetConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = clientConn.Close()
		_ = targetConn.Close()
		return
	}

	p.log.Debug("tunnel established", "host", host)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(targetConn, clientConn)
		_ = targetConn.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(clientConn, targetConn)
		_ = clientConn.Close()
	}()
	wg.Wait()
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHopHeaders removes headers that should not be forwarded,
// including any named by the Connection header.
func removeHopByHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); httpguts.ValidHeaderFieldName(name) {
				h.Del(name)
			}
		}
	}
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

// Package forward implements the streaming reverse-proxy engine: it
// rewrites a request onto the upstream, enforces a single deadline across
// connect/send/receive, caps the request body, scrubs hop-by-hop headers
// in both directions, and classifies every failure into one of a small
// set of outcomes the admission pipeline can translate into a redirect.
package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Outcome classifies how a forwarded request concluded.
type Outcome int

const (
	// Success means the upstream responded; Result.Response carries the
	// response for the caller to stream back to the client.
	Success Outcome = iota
	// Timeout means the shared deadline elapsed at some phase of the
	// exchange (connect, send, headers, or body).
	Timeout
	// BadGateway means the upstream connection failed outright (refused,
	// reset, DNS failure, malformed response, early close).
	BadGateway
	// BodyTooLarge means the request body exceeded MaxBodySize, detected
	// either before the exchange started (Content-Length) or mid-stream.
	BodyTooLarge
)

// hopByHop is the fixed set of headers meaningful only to a single
// transport hop. They are stripped from both the forwarded request and
// the returned response.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Config configures a Forwarder.
type Config struct {
	// Upstream is the base URL of the backend: scheme + host + port.
	Upstream *url.URL
	// MaxBodySize caps the request body, in bytes.
	MaxBodySize int64
	// Transport is the RoundTripper used for upstream connections. If
	// nil, http.DefaultTransport is used.
	Transport http.RoundTripper
}

// Forwarder sends each forwarded request over its transport (which may
// reuse pooled idle connections) and streams the request and response
// bodies through, observing a single shared deadline for the whole
// exchange.
type Forwarder struct {
	upstream    *url.URL
	maxBodySize int64
	client      *http.Client
}

// New builds a Forwarder from cfg.
func New(cfg Config) *Forwarder {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Forwarder{
		upstream:    cfg.Upstream,
		maxBodySize: cfg.MaxBodySize,
		// Timeout is not set on the client: the shared deadline is
		// carried via the request's context instead, so it governs
		// connect/send/headers/body uniformly rather than composing
		// several independent per-phase timers.
		client: &http.Client{
			Transport:     transport,
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Result is the outcome of Forward. Response is non-nil (and the caller
// owns closing Response.Body) iff Outcome == Success.
type Result struct {
	Outcome  Outcome
	Response *http.Response
}

// Forward rewrites req onto the upstream and streams it through,
// enforcing deadline as a single cutoff for the entire exchange. clientIP
// is appended to X-Forwarded-For. scheme is the edge-observed scheme used
// for X-Forwarded-Proto.
func (f *Forwarder) Forward(req *http.Request, deadline time.Time, clientIP, scheme string) Result {
	if cl := req.ContentLength; cl > 0 && cl > f.maxBodySize {
		return Result{Outcome: BodyTooLarge}
	}

	// cancel is released by the response body's Close on success, so the
	// deadline keeps governing the body read after Forward returns.
	ctx, cancel := context.WithDeadline(req.Context(), deadline)

	outReq, err := f.buildRequest(ctx, req, clientIP, scheme)
	if err != nil {
		cancel()
		return Result{Outcome: BadGateway}
	}

	resp, err := f.client.Do(outReq)
	if err != nil {
		defer cancel()
		if errors.Is(err, errBodyTooLarge) {
			return Result{Outcome: BodyTooLarge}
		}
		if ctx.Err() != nil {
			return Result{Outcome: Timeout}
		}
		return Result{Outcome: BadGateway}
	}

	stripHopByHop(resp.Header, resp.Header.Get("Connection"))
	resp.Body = &deadlineCappedBody{
		rc:      resp.Body,
		ctx:     ctx,
		cancel:  cancel,
		maxSize: f.maxBodySize,
	}
	return Result{Outcome: Success, Response: resp}
}

// buildRequest rewrites req's URI onto the upstream, copies headers
// (minus hop-by-hop), augments forwarding headers, and wraps the body
// in a counting reader that enforces MaxBodySize mid-stream.
func (f *Forwarder) buildRequest(ctx context.Context, req *http.Request, clientIP, scheme string) (*http.Request, error) {
	target := *f.upstream
	target.Path = singleJoiningSlash(f.upstream.Path, req.URL.Path)
	target.RawQuery = req.URL.RawQuery

	var body io.Reader
	if req.Body != nil {
		body = &cappedReader{r: req.Body, limit: f.maxBodySize}
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	outReq.ContentLength = req.ContentLength

	copyHeaders(outReq.Header, req.Header)

	if xff := outReq.Header.Get("X-Forwarded-For"); xff != "" {
		outReq.Header.Set("X-Forwarded-For", xff+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	if scheme == "" {
		scheme = "http"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", req.Host)

	return outReq, nil
}

// copyHeaders copies src to dst, skipping the fixed hop-by-hop set and
// any header named in src's Connection value.
func copyHeaders(dst, src http.Header) {
	removals := connectionTokens(src.Get("Connection"))
	for k, vv := range src {
		if hopByHop[k] || removals[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// stripHopByHop removes the fixed hop-by-hop set plus any header named
// in connVal from h, in place.
func stripHopByHop(h http.Header, connVal string) {
	for k := range hopByHop {
		h.Del(k)
	}
	for k := range connectionTokens(connVal) {
		h.Del(k)
	}
}

func connectionTokens(connVal string) map[string]bool {
	if connVal == "" {
		return nil
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.Split(connVal, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			tokens[http.CanonicalHeaderKey(tok)] = true
		}
	}
	return tokens
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

var errBodyTooLarge = errors.New("forward: request body exceeds max body size")

// cappedReader wraps the inbound request body and aborts the transfer
// once more than limit bytes have been read, surfacing errBodyTooLarge.
type cappedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.read > c.limit {
		return 0, errBodyTooLarge
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.limit {
		return n, errBodyTooLarge
	}
	return n, err
}

// deadlineCappedBody wraps the upstream response body so that reads past
// the shared deadline return the context's error. It counts the bytes
// read but does not truncate the response at maxSize; the body cap is
// enforced on the request side only. Close releases the deadline context.
type deadlineCappedBody struct {
	rc      io.ReadCloser
	ctx     context.Context
	cancel  context.CancelFunc
	maxSize int64
	read    int64
}

func (b *deadlineCappedBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := b.rc.Read(p)
	b.read += int64(n)
	return n, err
}

func (b *deadlineCappedBody) Close() error {
	defer b.cancel()
	return b.rc.Close()
}

// DialTimeoutTransport builds an *http.Transport whose dialer honors the
// context deadline for the connect phase, matching the "single shared
// deadline" requirement: there is no separate, independently-configured
// connect timeout to compose badly with the overall one.
func DialTimeoutTransport() *http.Transport {
	dialer := &net.Dialer{}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ClassifyDialError maps a raw transport error to Timeout (for a net.Error
// that reports a timeout) or BadGateway, without a live Forward call.
// Forward itself does not call it.
func ClassifyDialError(err error) Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return BadGateway
}

// Package proxy wires the rate limiter, user-agent filter, and forwarder
// into the admission pipeline: the fixed, short-circuiting sequence of
// checks every inbound request passes before (or instead of) being
// forwarded upstream.
package proxy

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"admission-proxy/internal/filter"
	"admission-proxy/internal/forward"
	"admission-proxy/internal/middlewares"
	"admission-proxy/internal/monitoring"
	"admission-proxy/internal/ratelimit"
	"admission-proxy/internal/timeoutresolver"
)

// RedirectConfig is the error_redirects section of configuration: where
// each rejection outcome sends the client.
type RedirectConfig struct {
	RateLimited  string
	Banned       string
	BodyTooLarge string
	Timeout      string
	BadGateway   string
}

// Metrics is the subset of observability hooks the pipeline calls on
// every decision. Implementations must be safe for concurrent use.
type Metrics interface {
	IncAdmitted()
	IncRejected(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) IncAdmitted()       {}
func (nopMetrics) IncRejected(string) {}

// StandardMetrics implements Metrics on top of the monitoring package's
// global provider (a Prometheus registry in production).
type StandardMetrics struct{}

func (StandardMetrics) IncAdmitted() {
	monitoring.Inc("admission_decisions_total", "outcome", "admitted")
}

func (StandardMetrics) IncRejected(outcome string) {
	monitoring.Inc("admission_decisions_total", "outcome", outcome)
}

// Config bundles everything the pipeline needs besides the components it
// is handed directly.
type Config struct {
	MaxBodySize    int64
	Redirects      RedirectConfig
	BotRedirectURL string
	// GlobalRPS/GlobalBurst configure an optional aggregate soft-limit
	// ahead of the per-IP registry, protecting the service as a whole
	// from a surge spread across many distinct IPs. Zero GlobalRPS
	// disables this gate.
	GlobalRPS   float64
	GlobalBurst int
}

// Pipeline implements the admission-and-forwarding sequence as an
// http.Handler: ban/rate check, user-agent filter, body-size pre-check,
// forward — in that exact order, short-circuiting on first rejection.
type Pipeline struct {
	registry  *ratelimit.Registry
	filter    *filter.Filter
	resolver  *timeoutresolver.Resolver
	forwarder *forward.Forwarder
	breaker   *middlewares.CircuitBreaker
	global    *rate.Limiter
	cfg       Config
	metrics   Metrics
}

// New builds a Pipeline from its components and config. breaker may be
// nil to disable the upstream circuit breaker (every request reaches
// the forwarder).
func New(registry *ratelimit.Registry, f *filter.Filter, resolver *timeoutresolver.Resolver, fwd *forward.Forwarder, breaker *middlewares.CircuitBreaker, cfg Config, metrics Metrics) *Pipeline {
	var global *rate.Limiter
	if cfg.GlobalRPS > 0 {
		global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Pipeline{
		registry:  registry,
		filter:    f,
		resolver:  resolver,
		forwarder: fwd,
		breaker:   breaker,
		global:    global,
		cfg:       cfg,
		metrics:   metrics,
	}
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if p.global != nil && !p.global.Allow() {
		p.reject(w, r, "global_rate_limited", p.cfg.Redirects.RateLimited, http.StatusFound)
		return
	}

	switch p.registry.Check(ip) {
	case ratelimit.Banned:
		p.reject(w, r, "banned", p.cfg.Redirects.Banned, http.StatusFound)
		return
	case ratelimit.RateLimited:
		p.reject(w, r, "rate_limited", p.cfg.Redirects.RateLimited, http.StatusFound)
		return
	}

	if p.filter.IsBlocked(r.UserAgent()) {
		p.reject(w, r, "bot_blocked", p.cfg.BotRedirectURL, http.StatusMovedPermanently)
		return
	}

	if r.ContentLength > p.cfg.MaxBodySize {
		p.reject(w, r, "body_too_large", p.cfg.Redirects.BodyTooLarge, http.StatusFound)
		return
	}

	if p.breaker != nil && !p.breaker.Allow() {
		p.reject(w, r, "bad_gateway", p.cfg.Redirects.BadGateway, http.StatusFound)
		return
	}

	deadline := time.Now().Add(p.resolver.Resolve(r.URL.Path))
	scheme := r.Header.Get("X-Forwarded-Proto")

	_, span := monitoring.Start(r.Context(), "forward")
	result := p.forwarder.Forward(r, deadline, ip, scheme)
	span.End()

	switch result.Outcome {
	case forward.Success:
		if p.breaker != nil {
			p.breaker.RecordSuccess()
		}
		p.metrics.IncAdmitted()
		p.writeResponse(w, result)
	case forward.Timeout:
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		p.reject(w, r, "timeout", p.cfg.Redirects.Timeout, http.StatusFound)
	case forward.BadGateway:
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		p.reject(w, r, "bad_gateway", p.cfg.Redirects.BadGateway, http.StatusFound)
	case forward.BodyTooLarge:
		p.reject(w, r, "body_too_large", p.cfg.Redirects.BodyTooLarge, http.StatusFound)
	}
}

func (p *Pipeline) writeResponse(w http.ResponseWriter, result forward.Result) {
	defer result.Response.Body.Close()

	dst := w.Header()
	for k, vv := range result.Response.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(result.Response.StatusCode)
	io.Copy(w, result.Response.Body)
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, outcome, location string, status int) {
	p.metrics.IncRejected(outcome)
	slog.Warn("request rejected",
		"outcome", outcome,
		"path", r.URL.Path,
		"ip", clientIP(r),
		"correlation_id", middlewares.GetCorrelationID(r.Context()),
	)
	w.Header().Set("Location", location)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

// clientIP extracts the peer address, stripping the ephemeral port. The
// listener glue is the only thing that ever sets RemoteAddr, so it is
// trusted without further validation (the edge terminator is the sole
// peer per the spec's trust model).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package internal

import (
	"net/http"

	"admission-proxy/internal/handlers"
	"admission-proxy/internal/middlewares"
	"admission-proxy/internal/proxy"
)

// Router wraps the admission pipeline in the standard middleware chain:
// correlation ID, request ID, request logging, panic recovery, and
// baseline security headers, in that order from outermost to innermost.
type Router struct {
	handler       http.Handler
	healthHandler *handlers.HealthHandler
}

// NewRouter builds the router from an already-constructed Pipeline.
func NewRouter(pipeline *proxy.Pipeline, healthHandler *handlers.HealthHandler) *Router {
	var h http.Handler = pipeline
	h = middlewares.SecurityHeaders(h)
	h = middlewares.Recovery()(h)
	h = middlewares.RequestLog(h)
	h = middlewares.RequestID(h)
	h = middlewares.CorrelationID(h)

	return &Router{handler: h, healthHandler: healthHandler}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// HealthHandler returns the shared health handler so main can wire it
// into both the router's shutdown path and the admin server.
func (r *Router) HealthHandler() *handlers.HealthHandler {
	return r.healthHandler
}

// SetUnavailable marks the process as draining.
func (r *Router) SetUnavailable() {
	r.healthHandler.SetUnavailable()
}

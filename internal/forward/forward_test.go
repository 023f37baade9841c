package forward_test

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"admission-proxy/internal/forward"
)

func newForwarder(t *testing.T, upstream string, maxBody int64) *forward.Forwarder {
	t.Helper()
	u, err := url.Parse(upstream)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}
	return forward.New(forward.Config{Upstream: u, MaxBodySize: maxBody})
}

func TestForward_SuccessRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Forwarded-For"); got != "203.0.113.7" {
			t.Errorf("X-Forwarded-For = %q, want 203.0.113.7", got)
		}
		if got := r.Header.Get("X-Forwarded-Proto"); got != "https" {
			t.Errorf("X-Forwarded-Proto = %q, want https", got)
		}
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := newForwarder(t, srv.URL, 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/path?x=1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	res := f.Forward(req, time.Now().Add(5*time.Second), "203.0.113.7", "https")
	if res.Outcome != forward.Success {
		t.Fatalf("Outcome = %v, want Success", res.Outcome)
	}
	defer res.Response.Body.Close()

	if res.Response.Header.Get("Connection") != "" {
		t.Error("Connection header should have been stripped from response")
	}
	if res.Response.Header.Get("X-Upstream") != "yes" {
		t.Error("non-hop-by-hop response header should survive")
	}

	body, _ := io.ReadAll(res.Response.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
}

func TestForward_HopByHopRequestHeadersStripped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom-Drop") != "" {
			t.Error("header named in Connection should have been stripped")
		}
		if r.Header.Get("Keep-Alive") != "" {
			t.Error("Keep-Alive is always hop-by-hop")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newForwarder(t, srv.URL, 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Connection", "X-Custom-Drop")
	req.Header.Set("X-Custom-Drop", "1")
	req.Header.Set("Keep-Alive", "timeout=5")

	res := f.Forward(req, time.Now().Add(5*time.Second), "1.2.3.4", "http")
	if res.Outcome != forward.Success {
		t.Fatalf("Outcome = %v, want Success", res.Outcome)
	}
	res.Response.Body.Close()
}

func TestForward_BadGateway_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens here now

	f := newForwarder(t, "http://"+addr, 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := f.Forward(req, time.Now().Add(5*time.Second), "1.2.3.4", "http")
	if res.Outcome != forward.BadGateway {
		t.Fatalf("Outcome = %v, want BadGateway", res.Outcome)
	}
}

func TestForward_Timeout_SlowUpstream(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block) // runs first, so the handler returns before srv.Close waits on it

	f := newForwarder(t, srv.URL, 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := f.Forward(req, time.Now().Add(50*time.Millisecond), "1.2.3.4", "http")
	if res.Outcome != forward.Timeout {
		t.Fatalf("Outcome = %v, want Timeout", res.Outcome)
	}
}

func TestForward_BodyTooLarge_ContentLengthPreCheck(t *testing.T) {
	f := newForwarder(t, "http://127.0.0.1:1", 10)
	body := bytes.Repeat([]byte("x"), 11)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.ContentLength = 11

	res := f.Forward(req, time.Now().Add(time.Second), "1.2.3.4", "http")
	if res.Outcome != forward.BodyTooLarge {
		t.Fatalf("Outcome = %v, want BodyTooLarge", res.Outcome)
	}
}

func TestForward_BodyExactlyAtCapIsAdmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newForwarder(t, srv.URL, 10)
	body := bytes.Repeat([]byte("x"), 10)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.ContentLength = 10

	res := f.Forward(req, time.Now().Add(5*time.Second), "1.2.3.4", "http")
	if res.Outcome != forward.Success {
		t.Fatalf("Outcome = %v, want Success", res.Outcome)
	}
	res.Response.Body.Close()
}

package timeoutresolver_test

import (
	"testing"
	"time"

	"admission-proxy/internal/timeoutresolver"
)

func TestResolve(t *testing.T) {
	r := timeoutresolver.New([]timeoutresolver.Override{
		{Path: "/create-checkout-session/", Timeout: 300 * time.Second},
		{Path: "/create-checkout-session", Timeout: 999 * time.Second},
		{Path: "/slow", Timeout: 60 * time.Second},
	}, 5*time.Second)

	tests := []struct {
		name string
		path string
		want time.Duration
	}{
		{"matches first override", "/create-checkout-session/abc", 300 * time.Second},
		{"shorter path only matches the second, shorter override", "/create-checkout-session", 999 * time.Second},
		{"unrelated override", "/slow/endpoint", 60 * time.Second},
		{"no override falls back to default", "/", 5 * time.Second},
		{"byte-exact, no normalization", "/Slow", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

package config_test

import (
	"strings"
	"testing"
	"time"

	"admission-proxy/internal/config"
)

const validTOML = `
[server]
listen_addr = "0.0.0.0:8080"

[proxy]
upstream = "http://backend.internal:9000"

[limits]
max_body_size = 1048576
default_timeout = "5s"

[rate_limit]
rpm = 40
burst = 20

[filter]
blocked_patterns = ["Googlebot", "AhrefsBot"]
bot_redirect_url = "/blocked"

[error_redirects]
rate_limited = "/error/429/"
banned = "/error/403/"
body_too_large = "/error/413/"
timeout = "/error/504/"
bad_gateway = "/error/502/"

[[timeout_override]]
path = "/slow-report"
timeout = "30s"

[[timeout_override]]
path = "/create-checkout-session"
timeout = "15s"
`

func TestLoadBytes_ValidConfig(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(validTOML))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Upstream.String() != "http://backend.internal:9000" {
		t.Errorf("Upstream = %q", cfg.Upstream.String())
	}
	if cfg.MaxBodySize != 1048576 {
		t.Errorf("MaxBodySize = %d", cfg.MaxBodySize)
	}
	if cfg.DefaultTimeout != 5*time.Second {
		t.Errorf("DefaultTimeout = %v", cfg.DefaultTimeout)
	}
	if cfg.RPM != 40 || cfg.Burst != 20 {
		t.Errorf("RPM/Burst = %v/%v", cfg.RPM, cfg.Burst)
	}
	if cfg.ViolationThreshold != 3 {
		t.Errorf("ViolationThreshold = %d, want fixed 3", cfg.ViolationThreshold)
	}
	if cfg.BanDuration != 3600*time.Second {
		t.Errorf("BanDuration = %v, want fixed 3600s", cfg.BanDuration)
	}
	if len(cfg.TimeoutOverrides) != 2 {
		t.Fatalf("TimeoutOverrides length = %d, want 2", len(cfg.TimeoutOverrides))
	}
	if cfg.TimeoutOverrides[0].Path != "/slow-report" || cfg.TimeoutOverrides[0].Timeout != 30*time.Second {
		t.Errorf("TimeoutOverrides[0] = %+v", cfg.TimeoutOverrides[0])
	}
}

func TestLoadBytes_UnknownFieldRejected(t *testing.T) {
	bad := strings.Replace(validTOML, "[server]\n", "[server]\nbogus_key = \"x\"\n", 1)
	_, err := config.LoadBytes([]byte(bad))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadBytes_MissingListenAddr(t *testing.T) {
	bad := strings.Replace(validTOML, `listen_addr = "0.0.0.0:8080"`, "", 1)
	_, err := config.LoadBytes([]byte(bad))
	if err == nil {
		t.Fatal("expected error for missing listen_addr, got nil")
	}
}

func TestLoadBytes_MissingUpstream(t *testing.T) {
	bad := strings.Replace(validTOML, `upstream = "http://backend.internal:9000"`, "", 1)
	_, err := config.LoadBytes([]byte(bad))
	if err == nil {
		t.Fatal("expected error for missing upstream, got nil")
	}
}

func TestLoadBytes_DefaultsAppliedWhenOmitted(t *testing.T) {
	minimal := `
[server]
listen_addr = "0.0.0.0:8080"

[proxy]
upstream = "http://backend.internal:9000"
`
	cfg, err := config.LoadBytes([]byte(minimal))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.MaxBodySize != 5*1024*1024 {
		t.Errorf("default MaxBodySize = %d", cfg.MaxBodySize)
	}
	if cfg.DefaultTimeout != 5*time.Second {
		t.Errorf("default DefaultTimeout = %v", cfg.DefaultTimeout)
	}
	if cfg.RPM != 40 || cfg.Burst != 20 {
		t.Errorf("default RPM/Burst = %v/%v", cfg.RPM, cfg.Burst)
	}
	if len(cfg.TimeoutOverrides) != 0 {
		t.Errorf("expected no overrides, got %d", len(cfg.TimeoutOverrides))
	}
}

func TestLoadBytes_InvalidTimeoutOverrideDuration(t *testing.T) {
	bad := strings.Replace(validTOML, `timeout = "30s"`, `timeout = "not-a-duration"`, 1)
	_, err := config.LoadBytes([]byte(bad))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// Package config loads the proxy's frozen configuration from a TOML file.
// Parsing and validation are deliberately simple and happen once at
// startup; nothing downstream re-reads or mutates the result.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server is the [server] section.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
}

// Proxy is the [proxy] section.
type Proxy struct {
	Upstream string `toml:"upstream"`
}

// Limits is the [limits] section.
type Limits struct {
	MaxBodySize    int64  `toml:"max_body_size"`
	DefaultTimeout string `toml:"default_timeout"`
}

// RateLimit is the [rate_limit] section.
type RateLimit struct {
	RPM   float64 `toml:"rpm"`
	Burst int     `toml:"burst"`
}

// Filter is the [filter] section.
type Filter struct {
	BlockedPatterns []string `toml:"blocked_patterns"`
	BotRedirectURL  string   `toml:"bot_redirect_url"`
}

// ErrorRedirects is the [error_redirects] section.
type ErrorRedirects struct {
	RateLimited  string `toml:"rate_limited"`
	Banned       string `toml:"banned"`
	BodyTooLarge string `toml:"body_too_large"`
	Timeout      string `toml:"timeout"`
	BadGateway   string `toml:"bad_gateway"`
}

// TimeoutOverride is one [[timeout_override]] table.
type TimeoutOverride struct {
	Path    string `toml:"path"`
	Timeout string `toml:"timeout"`
}

// file is the raw decoded shape of the TOML document, before defaults
// and duration parsing are applied.
type file struct {
	Server          Server            `toml:"server"`
	Proxy           Proxy             `toml:"proxy"`
	Limits          Limits            `toml:"limits"`
	RateLimit       RateLimit         `toml:"rate_limit"`
	Filter          Filter            `toml:"filter"`
	ErrorRedirects  ErrorRedirects    `toml:"error_redirects"`
	TimeoutOverride []TimeoutOverride `toml:"timeout_override"`
}

// Config is the fully resolved, immutable configuration the rest of the
// process is built from. ViolationThreshold and BanDuration are fixed by
// the spec and not loaded from the file.
type Config struct {
	ListenAddr         string
	Upstream           *url.URL
	MaxBodySize        int64
	DefaultTimeout     time.Duration
	RPM                float64
	Burst              int
	ViolationThreshold int
	BanDuration        time.Duration
	BlockedPatterns    []string
	BotRedirectURL     string
	ErrorRedirects     ErrorRedirects
	TimeoutOverrides   []TimeoutOverrideResolved
}

// TimeoutOverrideResolved is a timeout_override entry with its duration
// already parsed, in declaration order.
type TimeoutOverrideResolved struct {
	Path    string
	Timeout time.Duration
}

const (
	defaultMaxBodySize    = 5 * 1024 * 1024
	defaultTimeout        = 5 * time.Second
	defaultRPM            = 40
	defaultBurst          = 20
	violationThresholdFix = 3
	banDurationFix        = 3600 * time.Second
)

// Load reads and validates the TOML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return resolve(&f)
}

func resolve(f *file) (*Config, error) {
	if f.Server.ListenAddr == "" {
		return nil, fmt.Errorf("config: [server].listen_addr is required")
	}
	if f.Proxy.Upstream == "" {
		return nil, fmt.Errorf("config: [proxy].upstream is required")
	}

	upstream, err := url.Parse(f.Proxy.Upstream)
	if err != nil {
		return nil, fmt.Errorf("config: invalid upstream URL %q: %w", f.Proxy.Upstream, err)
	}

	maxBody := f.Limits.MaxBodySize
	if maxBody == 0 {
		maxBody = defaultMaxBodySize
	}

	defTimeout := defaultTimeout
	if f.Limits.DefaultTimeout != "" {
		defTimeout, err = time.ParseDuration(f.Limits.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("config: invalid default_timeout %q: %w", f.Limits.DefaultTimeout, err)
		}
	}

	rpm := f.RateLimit.RPM
	if rpm == 0 {
		rpm = defaultRPM
	}
	burst := f.RateLimit.Burst
	if burst == 0 {
		burst = defaultBurst
	}

	overrides := make([]TimeoutOverrideResolved, 0, len(f.TimeoutOverride))
	for _, o := range f.TimeoutOverride {
		d, err := time.ParseDuration(o.Timeout)
		if err != nil {
			return nil, fmt.Errorf("config: invalid timeout_override duration %q for path %q: %w", o.Timeout, o.Path, err)
		}
		overrides = append(overrides, TimeoutOverrideResolved{Path: o.Path, Timeout: d})
	}

	cfg := &Config{
		ListenAddr:         f.Server.ListenAddr,
		Upstream:           upstream,
		MaxBodySize:        maxBody,
		DefaultTimeout:     defTimeout,
		RPM:                rpm,
		Burst:              burst,
		ViolationThreshold: violationThresholdFix,
		BanDuration:        banDurationFix,
		BlockedPatterns:    f.Filter.BlockedPatterns,
		BotRedirectURL:     f.Filter.BotRedirectURL,
		ErrorRedirects:     f.ErrorRedirects,
		TimeoutOverrides:   overrides,
	}
	return cfg, nil
}

// LoadBytes parses raw TOML content directly, bypassing the filesystem.
// Used by tests.
func LoadBytes(raw []byte) (*Config, error) {
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return resolve(&f)
}

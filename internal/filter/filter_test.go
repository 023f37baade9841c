package filter_test

import (
	"testing"

	"admission-proxy/internal/filter"
)

func TestIsBlocked(t *testing.T) {
	f, err := filter.Compile([]string{"Googlebot", "AhrefsBot", "curl/"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		name string
		ua   string
		want bool
	}{
		{"blocked substring", "Mozilla/5.0 (compatible; Googlebot/2.1)", true},
		{"another blocked pattern", "AhrefsBot/7.0", true},
		{"curl prefix anywhere", "curl/8.1.0", true},
		{"ordinary browser", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", false},
		{"empty user agent never blocked", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsBlocked(tt.ua); got != tt.want {
				t.Errorf("IsBlocked(%q) = %v, want %v", tt.ua, got, tt.want)
			}
		})
	}
}

func TestCompile_EmptyPatternListNeverBlocks(t *testing.T) {
	f, err := filter.Compile(nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if f.IsBlocked("AnyBot/1.0") {
		t.Error("expected no patterns to never block")
	}
}

func TestCompile_InvalidRegexFails(t *testing.T) {
	_, err := filter.Compile([]string{"("})
	if err == nil {
		t.Fatal("expected compile error for invalid regex fragment")
	}
}

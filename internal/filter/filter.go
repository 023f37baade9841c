// Package filter implements the user-agent blocklist: an ordered list of
// substring/regex patterns compiled once into a single alternation and
// matched in O(|input|) regardless of how many patterns were configured.
package filter

import "regexp"

// Filter matches a User-Agent header value against a compiled set of
// blocked patterns. The zero value is not usable; construct with
// Compile. A Filter is immutable and safe for concurrent use by many
// goroutines with no per-request allocation beyond the match itself.
type Filter struct {
	re *regexp.Regexp
}

// Compile builds a Filter from an ordered list of patterns. Each pattern
// is treated as a regular expression fragment; a plain substring like
// "Googlebot" works unchanged since regexp metacharacters are rare in
// real user-agent strings, while a caller that needs literal matching
// can pre-escape with regexp.QuoteMeta. An empty pattern list yields a
// Filter that never blocks.
//
// Compilation failures are fatal at startup per the spec; Compile
// returns the error so main can log and exit rather than panicking
// inside library code.
func Compile(patterns []string) (*Filter, error) {
	if len(patterns) == 0 {
		return &Filter{}, nil
	}

	combined := "(?:" + patterns[0] + ")"
	for _, p := range patterns[1:] {
		combined += "|(?:" + p + ")"
	}

	re, err := regexp.Compile(combined)
	if err != nil {
		return nil, err
	}
	return &Filter{re: re}, nil
}

// IsBlocked reports whether userAgent matches any configured pattern. An
// empty user-agent is never blocked.
func (f *Filter) IsBlocked(userAgent string) bool {
	if userAgent == "" || f.re == nil {
		return false
	}
	return f.re.MatchString(userAgent)
}

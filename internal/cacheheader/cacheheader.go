// Package cacheheader maps HTTP response headers to a coarse cache
// verdict. It is never authoritative — many deployments strip or lie
// about cache-status headers — and exists only to annotate samples
// with corroborating evidence alongside the timing oracle.
package cacheheader

import "strings"

// Status is one of the four outcomes a response's headers can suggest.
type Status string

const (
	// HIT means a recognized header explicitly reports a cache hit.
	HIT Status = "HIT"
	// MISS means a recognized header explicitly reports a cache miss.
	MISS Status = "MISS"
	// Dynamic means a recognized header is present but indicates the
	// response bypassed caching (e.g. an explicit "DYNAMIC"/"BYPASS" token).
	Dynamic Status = "DYNAMIC"
	// Unknown ("–") means no recognized cache-status header was found.
	Unknown Status = "–"
)

// cacheStatusHeaders are checked, in order, for an explicit hit/miss
// token. CDNs and reverse proxies disagree on the header name, so
// several vendor conventions are tried.
var cacheStatusHeaders = []string{
	"X-Cache",
	"CF-Cache-Status",
	"X-Cache-Status",
	"X-Varnish-Cache",
}

// Classify inspects headers (keys assumed already case-normalized by
// the caller's convention, but matched case-insensitively here) and
// returns the best cache-status guess.
func Classify(headers map[string]string) Status {
	for _, name := range cacheStatusHeaders {
		if v, ok := lookup(headers, name); ok {
			if s, matched := classifyToken(v); matched {
				return s
			}
		}
	}

	if v, ok := lookup(headers, "X-Cache-Hits"); ok {
		if n, ok := parseNonNegativeInt(v); ok {
			if n > 0 {
				return HIT
			}
			return MISS
		}
	}

	// An Age header with a positive value means some cache along the
	// path has held the response for that many seconds.
	if v, ok := lookup(headers, "Age"); ok {
		if n, ok := parseNonNegativeInt(v); ok && n > 0 {
			return HIT
		}
	}

	return Unknown
}

func classifyToken(v string) (Status, bool) {
	upper := strings.ToUpper(strings.TrimSpace(v))
	switch {
	case strings.Contains(upper, "HIT"):
		return HIT, true
	case strings.Contains(upper, "MISS"):
		return MISS, true
	case strings.Contains(upper, "DYNAMIC"), strings.Contains(upper, "BYPASS"), strings.Contains(upper, "PASS"):
		return Dynamic, true
	default:
		return Unknown, false
	}
}

func lookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func parseNonNegativeInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}

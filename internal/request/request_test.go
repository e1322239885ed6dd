package request

import (
	"strings"
	"testing"
)

func TestAuthorityDefaultPorts(t *testing.T) {
	r, err := New("GET", "https://example.com/path")
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Authority(); got != "example.com:443" {
		t.Errorf("Authority() = %q, want example.com:443", got)
	}

	r2, _ := New("GET", "http://example.com/path")
	if got := r2.Authority(); got != "example.com:80" {
		t.Errorf("Authority() = %q, want example.com:80", got)
	}

	r3, _ := New("GET", "https://example.com:8443/path")
	if got := r3.Authority(); got != "example.com:8443" {
		t.Errorf("Authority() = %q, want example.com:8443", got)
	}
}

func TestPathDefaultsToSlash(t *testing.T) {
	r, _ := New("GET", "https://example.com")
	if got := r.Path(); got != "/" {
		t.Errorf("Path() = %q, want /", got)
	}

	r2, _ := New("GET", "https://example.com/x?a=1")
	if got := r2.Path(); got != "/x?a=1" {
		t.Errorf("Path() = %q, want /x?a=1", got)
	}
}

func TestPathPreservesPercentEncodedDelimiters(t *testing.T) {
	cases := map[string]string{
		"https://example.com/profile%3Fabcde.css":     "/profile%3Fabcde.css",
		"https://example.com/profile%3Babcde.css":     "/profile%3Babcde.css",
		"https://example.com/profile%3Fabcde.css?a=1": "/profile%3Fabcde.css?a=1",
	}
	for in, want := range cases {
		r, err := New("GET", in)
		if err != nil {
			t.Fatal(err)
		}
		if got := r.Path(); got != want {
			t.Errorf("Path() for %q = %q, want %q", in, got, want)
		}
	}
}

func TestPseudoHeaderOrdering(t *testing.T) {
	r, _ := New("GET", "https://example.com/profile")
	r.SetHeader("Accept", "*/*")
	r.SetHeader("User-Agent", "test")

	wire := r.WireHeaders()
	if len(wire) != 6 {
		t.Fatalf("len(WireHeaders()) = %d, want 6", len(wire))
	}
	wantOrder := []string{":method", ":authority", ":scheme", ":path", "Accept", "User-Agent"}
	for i, name := range wantOrder {
		if wire[i].Name != name {
			t.Errorf("WireHeaders()[%d].Name = %q, want %q", i, wire[i].Name, name)
		}
	}
}

func TestSetHeaderReplacesExisting(t *testing.T) {
	r, _ := New("GET", "https://example.com/")
	r.SetHeader("X-Test", "a")
	r.SetHeader("x-test", "b")

	if len(r.Headers) != 1 {
		t.Fatalf("expected a single header, got %d", len(r.Headers))
	}
	if v, _ := r.GetHeader("X-Test"); v != "b" {
		t.Errorf("GetHeader(X-Test) = %q, want b", v)
	}
}

func TestWireHeadersOmitsCookieWhenEmpty(t *testing.T) {
	r, _ := New("GET", "https://example.com/")
	r.SetHeader("Accept", "*/*")

	wire := r.WireHeaders()
	for _, h := range wire {
		if strings.EqualFold(h.Name, "cookie") {
			t.Fatalf("WireHeaders() included a Cookie header with no cookies set: %+v", h)
		}
	}
}

func TestWireHeadersAppendsSortedCookieHeader(t *testing.T) {
	r, _ := New("GET", "https://example.com/")
	r.SetHeader("Accept", "*/*")
	r.Cookies["session"] = "abc"
	r.Cookies["pref"] = "dark"

	wire := r.WireHeaders()
	last := wire[len(wire)-1]
	if !strings.EqualFold(last.Name, "cookie") {
		t.Fatalf("last WireHeaders() entry = %+v, want a trailing Cookie header", last)
	}
	if last.Value != "pref=dark; session=abc" {
		t.Errorf("Cookie header value = %q, want pref=dark; session=abc", last.Value)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r, _ := New("GET", "https://example.com/")
	r.SetHeader("X-Test", "a")
	r.Cookies["session"] = "1"

	c := r.Clone()
	c.SetHeader("X-Test", "b")
	c.Cookies["session"] = "2"

	if v, _ := r.GetHeader("X-Test"); v != "a" {
		t.Errorf("original mutated: X-Test = %q", v)
	}
	if r.Cookies["session"] != "1" {
		t.Errorf("original cookies mutated: %q", r.Cookies["session"])
	}
}

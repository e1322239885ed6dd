package cachebuster

import (
	"strings"
	"testing"

	"github.com/mgolinelli/wcdscan/internal/randtoken"
	"github.com/mgolinelli/wcdscan/internal/request"
)

func newBuster() *Buster {
	return New("example.com", randtoken.NewLedger(5))
}

func TestHeaderUserAgent(t *testing.T) {
	b := newBuster()
	got := b.Header("User-Agent", "Mozilla/5.0")
	if !strings.HasPrefix(got, "Mozilla/5.0 ") {
		t.Errorf("Header(User-Agent) = %q, want prefix %q", got, "Mozilla/5.0 ")
	}
}

func TestHeaderOrigin(t *testing.T) {
	b := newBuster()
	got := b.Header("Origin", "")
	if !strings.HasPrefix(got, "https://example.com/") {
		t.Errorf("Header(Origin) = %q, want https://example.com/ prefix", got)
	}
}

func TestHeaderDefault(t *testing.T) {
	b := newBuster()
	got := b.Header("X-Custom-Thing", "")
	if len(got) != 5 {
		t.Errorf("Header(default) = %q, want length-5 token", got)
	}
}

func TestCookiesBustAll(t *testing.T) {
	b := newBuster()
	cookies := map[string]string{"session": "abc"}
	out := b.Cookies(cookies, true)

	if !strings.HasPrefix(out["session"], "abc,") {
		t.Errorf("session cookie = %q, want abc,<token>", out["session"])
	}
	if len(out) != 2 {
		t.Errorf("len(out) = %d, want 2 (original + new buster cookie)", len(out))
	}
}

func TestQueryAppendsParam(t *testing.T) {
	b := newBuster()
	got, err := b.Query("https://example.com/path?existing=1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "existing=1&") {
		t.Errorf("Query() = %q, want existing query preserved", got)
	}
}

func TestQueryNoExistingQuery(t *testing.T) {
	b := newBuster()
	got, err := b.Query("https://example.com/path")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "?") {
		t.Errorf("Query() = %q, want a query string appended", got)
	}
}

func TestPathAppendsSegment(t *testing.T) {
	b := newBuster()
	got, err := b.Path("https://example.com/profile")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "https://example.com/profile/") {
		t.Errorf("Path() = %q, want trailing segment appended", got)
	}
}

func TestPathTrailingSlash(t *testing.T) {
	b := newBuster()
	got, err := b.Path("https://example.com/profile/")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(strings.TrimPrefix(got, "https://"), "//") {
		t.Errorf("Path() = %q, should not double up slashes in the path", got)
	}
}

func TestRequestAppliesAllTechniques(t *testing.T) {
	b := newBuster()
	req, _ := request.New("GET", "https://example.com/profile")
	req.Cookies["session"] = "abc"

	if err := b.Request(req, "Accept-Language, X-Custom-Vary", false); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(req.URL.RawQuery, "=") {
		t.Errorf("expected a cache-busting query param, got %q", req.URL.RawQuery)
	}
	for _, h := range TestHeaders {
		if _, ok := req.GetHeader(h); !ok {
			t.Errorf("expected header %s to be set", h)
		}
	}
	if _, ok := req.GetHeader("X-Custom-Vary"); !ok {
		t.Error("expected Vary-named header X-Custom-Vary to be set")
	}
	if len(req.Cookies) != 2 {
		t.Errorf("len(Cookies) = %d, want 2", len(req.Cookies))
	}
}

func TestFixedRequestIsStableAcrossCalls(t *testing.T) {
	b := newBuster()

	first, _ := request.New("GET", "https://example.com/profile")
	if err := b.FixedRequest(first, "", true); err != nil {
		t.Fatal(err)
	}
	second, _ := request.New("GET", "https://example.com/profile")
	if err := b.FixedRequest(second, "", true); err != nil {
		t.Fatal(err)
	}

	if first.URL.String() != second.URL.String() {
		t.Errorf("fixed URLs differ: %q vs %q", first.URL, second.URL)
	}
	w1, w2 := first.WireHeaders(), second.WireHeaders()
	if len(w1) != len(w2) {
		t.Fatalf("fixed wire headers differ in length: %d vs %d", len(w1), len(w2))
	}
	for i := range w1 {
		if w1[i] != w2[i] {
			t.Errorf("fixed wire header %d differs: %+v vs %+v", i, w1[i], w2[i])
		}
	}

	fresh, _ := request.New("GET", "https://example.com/profile")
	if err := b.Request(fresh, "", true); err != nil {
		t.Fatal(err)
	}
	if fresh.URL.String() == first.URL.String() {
		t.Error("a freshly busted request should not collide with the fixed variant")
	}
}

func TestRequestVarySkipsCookieAndTestHeaders(t *testing.T) {
	b := newBuster()
	req, _ := request.New("GET", "https://example.com/profile")

	if err := b.Request(req, "Cookie, User-Agent", false); err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "User-Agent") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("User-Agent set %d times, want exactly 1 (no duplicate from Vary pass)", count)
	}
}

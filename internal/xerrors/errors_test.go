package xerrors

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"nil error", nil, ErrorTypeUnknown},
		{"context canceled", context.Canceled, ErrorTypeCanceled},
		{"deadline exceeded", context.DeadlineExceeded, ErrorTypeTimeout},
		{"connection refused", errors.New("connection refused"), ErrorTypeNetwork},
		{"connection reset", errors.New("connection reset by peer"), ErrorTypeNetwork},
		{"tls error", errors.New("tls: handshake failure"), ErrorTypeTLS},
		{"certificate error", errors.New("x509: certificate signed by unknown authority"), ErrorTypeTLS},
		{"malformed response", errors.New("malformed HTTP response"), ErrorTypeProtocol},
		{"timeout error", errors.New("i/o timeout"), ErrorTypeTimeout},
		{"dns lookup error", errors.New("lookup failed"), ErrorTypeNetwork},
		{"dial tcp error", errors.New("dial tcp: connection refused"), ErrorTypeNetwork},
		{"unexpected EOF", errors.New("unexpected EOF"), ErrorTypeProtocol},
		{"excluded extension", errors.New("excluded extension: .png"), ErrorTypeCrawl},
		{"no data for analysis", errors.New("no data for site"), ErrorTypeAnalysis},
		{"unknown error", errors.New("some random error"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := Classify(tt.err); result != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected string
	}{
		{ErrorTypeUnknown, "unknown"},
		{ErrorTypeNetwork, "network"},
		{ErrorTypeTimeout, "timeout"},
		{ErrorTypeHTTP, "http"},
		{ErrorTypeTLS, "tls"},
		{ErrorTypeProtocol, "protocol"},
		{ErrorTypeCanceled, "canceled"},
		{ErrorTypeCrawl, "crawl"},
		{ErrorTypeAnalysis, "analysis"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.errType.String(); got != tt.expected {
				t.Errorf("ErrorType.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClassifiedError(t *testing.T) {
	baseErr := errors.New("base error")
	ce := NewClassifiedError(ErrorTypeNetwork, baseErr, "connection failed")

	if expected := "[network] connection failed: base error"; ce.Error() != expected {
		t.Errorf("ClassifiedError.Error() = %v, want %v", ce.Error(), expected)
	}
	if ce.Unwrap() != baseErr {
		t.Errorf("ClassifiedError.Unwrap() = %v, want %v", ce.Unwrap(), baseErr)
	}
	if !ce.Is(baseErr) {
		t.Error("ClassifiedError.Is(baseErr) should return true")
	}
}

func TestClassifiedErrorNoMessage(t *testing.T) {
	baseErr := errors.New("base error")
	ce := NewClassifiedError(ErrorTypeTimeout, baseErr, "")

	if expected := "[timeout] base error"; ce.Error() != expected {
		t.Errorf("ClassifiedError.Error() = %v, want %v", ce.Error(), expected)
	}
}

func TestClassifyAndWrap(t *testing.T) {
	err := errors.New("connection refused")
	ce := ClassifyAndWrap(err, "dial failed")

	if ce == nil {
		t.Fatal("ClassifyAndWrap should not return nil for non-nil error")
	}
	if ce.Type != ErrorTypeNetwork {
		t.Errorf("ClassifyAndWrap error type = %v, want %v", ce.Type, ErrorTypeNetwork)
	}
	if ce.Message != "dial failed" {
		t.Errorf("ClassifyAndWrap message = %v, want %v", ce.Message, "dial failed")
	}
}

func TestClassifyAndWrapNil(t *testing.T) {
	if ce := ClassifyAndWrap(nil, "test"); ce != nil {
		t.Error("ClassifyAndWrap(nil) should return nil")
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsTimeout(errors.New("i/o timeout")) {
		t.Error("IsTimeout should return true for timeout error")
	}
	if !IsNetwork(errors.New("connection refused")) {
		t.Error("IsNetwork should return true for network error")
	}
	if !IsTLS(errors.New("tls: handshake failure")) {
		t.Error("IsTLS should return true for TLS error")
	}
	if !IsCanceled(context.Canceled) {
		t.Error("IsCanceled should return true for canceled error")
	}
}

func TestIsHelpersWithNil(t *testing.T) {
	if IsTimeout(nil) || IsNetwork(nil) || IsTLS(nil) || IsCanceled(nil) {
		t.Error("Is* helpers should return false for nil")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"timeout error", errors.New("i/o timeout"), true},
		{"network error", errors.New("connection refused"), true},
		{"protocol error", errors.New("malformed response"), true},
		{"tls error", errors.New("tls: handshake failure"), false},
		{"canceled", context.Canceled, false},
		{"unknown error", errors.New("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestHTTPError(t *testing.T) {
	httpErr := NewHTTPError(404, "Not Found", "page not found")
	if httpErr.Error() != "HTTP 404 Not Found: page not found" {
		t.Errorf("HTTPError.Error() = %v", httpErr.Error())
	}
	if !httpErr.IsClientError() || httpErr.IsServerError() {
		t.Error("404 should be a client error, not a server error")
	}

	serverErr := NewHTTPError(500, "Internal Server Error", "")
	if serverErr.IsClientError() || !serverErr.IsServerError() {
		t.Error("500 should be a server error, not a client error")
	}
	if serverErr.Error() != "HTTP 500 Internal Server Error" {
		t.Errorf("HTTPError without message = %v", serverErr.Error())
	}
}

func TestIsHTTPError(t *testing.T) {
	httpErr := NewHTTPError(500, "Internal Server Error", "")
	regularErr := errors.New("not an http error")

	if !IsHTTPError(httpErr) {
		t.Error("IsHTTPError should return true for HTTPError")
	}
	if IsHTTPError(regularErr) {
		t.Error("IsHTTPError should return false for regular error")
	}
}

func TestGetHTTPError(t *testing.T) {
	httpErr := NewHTTPError(500, "Internal Server Error", "")
	if got := GetHTTPError(httpErr); got != httpErr {
		t.Error("GetHTTPError should return the HTTPError")
	}
	if GetHTTPError(errors.New("not an http error")) != nil {
		t.Error("GetHTTPError should return nil for regular error")
	}
}

func TestErrorStats(t *testing.T) {
	stats := &ErrorStats{}

	stats.Record("https://a.test/x", errors.New("connection refused"))
	stats.Record("https://a.test/y", errors.New("i/o timeout"))
	stats.Record("https://a.test/z", errors.New("tls: error"))
	stats.Record("https://a.test/w", errors.New("malformed"))
	stats.Record("https://a.test/v", context.Canceled)
	stats.Record("https://a.test/u", errors.New("excluded extension"))
	stats.Record("https://a.test/t", errors.New("no data for site"))
	stats.Record("https://a.test/s", errors.New("unknown"))
	stats.Record("", nil)

	if stats.Network != 1 || stats.Timeout != 1 || stats.TLS != 1 || stats.Protocol != 1 ||
		stats.Canceled != 1 || stats.Crawl != 1 || stats.Analysis != 1 || stats.Unknown != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Total() != 8 {
		t.Errorf("Total errors = %d, want 8", stats.Total())
	}
	if len(stats.Records) != 8 {
		t.Errorf("Records = %d, want 8", len(stats.Records))
	}
}

func TestClassifyWithNetError(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if Classify(opErr) != ErrorTypeNetwork {
		t.Error("net.OpError should be classified as network error")
	}

	dnsErr := &net.DNSError{Err: "no such host", Name: "example.invalid"}
	if Classify(dnsErr) != ErrorTypeNetwork {
		t.Error("net.DNSError should be classified as network error")
	}
}

func TestClassifyWithClassifiedError(t *testing.T) {
	ce := NewClassifiedError(ErrorTypeHTTP, errors.New("404"), "not found")
	if IsTimeout(ce) {
		t.Error("HTTP error should not be timeout")
	}

	timeoutCE := NewClassifiedError(ErrorTypeTimeout, errors.New("deadline exceeded"), "request timed out")
	if !IsTimeout(timeoutCE) {
		t.Error("Classified timeout error should be recognized")
	}
}

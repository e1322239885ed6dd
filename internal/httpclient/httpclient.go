// Package httpclient issues ordinary (non-timing) HTTP requests used
// by the WARM, PROBE_CACHE and PRIME_FIXED states, which only need a
// status/headers/body observation, not a multiplexed H2 measurement.
package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/mgolinelli/wcdscan/internal/request"
	"github.com/mgolinelli/wcdscan/internal/xerrors"
)

// Response is the observable outcome of an ordinary fetch.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Client issues ordinary HTTP requests.
type Client interface {
	Do(ctx context.Context, req *request.Request, allowRedirects bool) (*Response, error)
}

// netHTTPClient is the production Client, backed by net/http.
type netHTTPClient struct {
	noRedirect *http.Client
	redirect   *http.Client
}

// New returns a Client with the given timeout and TLS verification
// policy. It keeps two underlying *http.Client instances, one that
// never follows redirects (used by states that need to see the raw
// 3xx) and one that does.
func New(timeout time.Duration, tlsSkipVerify bool) Client {
	transport := &http.Transport{
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: tlsSkipVerify},
	}

	noRedirect := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	redirect := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	return &netHTTPClient{noRedirect: noRedirect, redirect: redirect}
}

func (c *netHTTPClient) Do(ctx context.Context, r *request.Request, allowRedirects bool) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), nil)
	if err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "building request")
	}
	for _, h := range r.Headers {
		httpReq.Header.Set(h.Name, h.Value)
	}
	for name, value := range r.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	client := c.redirect
	if !allowRedirects {
		client = c.noRedirect
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "performing request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "reading response body")
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

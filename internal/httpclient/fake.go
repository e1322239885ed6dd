package httpclient

import (
	"context"

	"github.com/mgolinelli/wcdscan/internal/request"
)

// Fake is a scripted Client for tests: it returns Responses in order,
// ignoring the request it was given.
type Fake struct {
	Responses []*Response
	Errs      []error
	Requests  []*request.Request

	calls int
}

func (f *Fake) Do(ctx context.Context, r *request.Request, allowRedirects bool) (*Response, error) {
	f.Requests = append(f.Requests, r)
	i := f.calls
	f.calls++

	var err error
	if i < len(f.Errs) {
		err = f.Errs[i]
	}
	var resp *Response
	if i < len(f.Responses) {
		resp = f.Responses[i]
	}
	return resp, err
}

package httpclient

import (
	"context"
	"errors"
	"testing"

	"github.com/mgolinelli/wcdscan/internal/request"
)

func TestFakeReturnsScriptedResponses(t *testing.T) {
	f := &Fake{
		Responses: []*Response{
			{StatusCode: 200},
			{StatusCode: 404},
		},
	}
	req, _ := request.New("GET", "https://example.com/")

	r1, err := f.Do(context.Background(), req, true)
	if err != nil || r1.StatusCode != 200 {
		t.Fatalf("first call = %+v, %v", r1, err)
	}
	r2, err := f.Do(context.Background(), req, true)
	if err != nil || r2.StatusCode != 404 {
		t.Fatalf("second call = %+v, %v", r2, err)
	}
	if len(f.Requests) != 2 {
		t.Errorf("len(Requests) = %d, want 2", len(f.Requests))
	}
}

func TestFakeReturnsScriptedError(t *testing.T) {
	wantErr := errors.New("boom")
	f := &Fake{Errs: []error{wantErr}}
	req, _ := request.New("GET", "https://example.com/")

	_, err := f.Do(context.Background(), req, true)
	if err != wantErr {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
}

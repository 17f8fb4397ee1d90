package openai

import (
	"context"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// go-openai drops response headers on error, so the retry-after hint of a 429 is
// recovered by a doer that records failed responses' headers on the request context.

type captureKey struct{}

type headerCapture struct {
	header http.Header
}

func withHeaderCapture(ctx context.Context) (context.Context, *headerCapture) {
	hc := &headerCapture{}
	return context.WithValue(ctx, captureKey{}, hc), hc
}

// Header returns the headers of the last failed response, or nil.
func (hc *headerCapture) Header() http.Header {
	if hc == nil {
		return nil
	}
	return hc.header
}

type capturingDoer struct {
	base openai.HTTPDoer
}

func (d capturingDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.base.Do(req)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	if hc, ok := req.Context().Value(captureKey{}).(*headerCapture); ok {
		hc.header = resp.Header.Clone()
	}
	return resp, err
}

package openai

import (
	"errors"
	"net/http"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/transport"
	openai "github.com/sashabaranov/go-openai"
)

// convertError converts go-openai errors to llm.Error types. header carries the
// failed response's headers when they were captured.
func convertError(provider string, err error, header http.Header) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(provider, apiErr.HTTPStatusCode, apiErr.Message, header, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return llm.ClassifyStatus(provider, reqErr.HTTPStatusCode, transport.ErrorMessage(reqErr.Body), header, err)
	}

	return llm.Normalize(provider, err)
}

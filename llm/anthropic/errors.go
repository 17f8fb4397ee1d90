package anthropic

import (
	"errors"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/tidwall/gjson"
)

const streamErrorPrefix = "received error while streaming: "

// errorTypeStatus maps the error.type of an Anthropic error body to the HTTP
// status the API uses for it. Stream errors arrive without a status.
var errorTypeStatus = map[string]int{
	"invalid_request_error": http.StatusBadRequest,
	"authentication_error":  http.StatusUnauthorized,
	"permission_error":      http.StatusForbidden,
	"not_found_error":       http.StatusNotFound,
	"request_too_large":     http.StatusRequestEntityTooLarge,
	"rate_limit_error":      http.StatusTooManyRequests,
	"api_error":             http.StatusInternalServerError,
	"overloaded_error":      529,
}

// convertError converts Anthropic SDK errors to llm.Error types.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		msg := gjson.Get(apiErr.RawJSON(), "error.message").String()
		return llm.ClassifyStatus(llm.ProviderAnthropic, apiErr.StatusCode, msg, header, err)
	}

	if payload, ok := strings.CutPrefix(err.Error(), streamErrorPrefix); ok {
		errType := gjson.Get(payload, "error.type").String()
		msg := gjson.Get(payload, "error.message").String()
		if status, known := errorTypeStatus[errType]; known {
			llmErr := llm.ClassifyStatus(llm.ProviderAnthropic, status, msg, nil, err)
			llmErr.StatusCode = 0
			return llmErr
		}
		return llm.NewTransientError(llm.ProviderAnthropic, "stream error", err)
	}

	return llm.Normalize(llm.ProviderAnthropic, err)
}

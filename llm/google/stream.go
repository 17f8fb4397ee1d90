package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/transport"
	"github.com/tidwall/gjson"
)

// streamProducer emits the text of each streamGenerateContent SSE chunk. Every
// chunk carries only the new text. The stream is complete once a candidate
// reports a finish reason.
func (c *Client) streamProducer(body io.Reader) llm.Producer {
	return func(_ context.Context, emit func(string) error) error {
		scanner := transport.NewSSEScanner(body)
		finishReason := ""
		for {
			evt, err := scanner.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return llm.Normalize(llm.ProviderGoogle, err)
			}

			if errObj := gjson.Get(evt.Data, "error"); errObj.Exists() {
				status := int(errObj.Get("code").Int())
				return llm.ClassifyStatus(llm.ProviderGoogle, status, errObj.Get("message").String(), http.Header{}, errors.New(evt.Data))
			}

			var chunk generateResponse
			if err := json.Unmarshal([]byte(evt.Data), &chunk); err != nil {
				return llm.NewPermanentError(llm.ProviderGoogle, "malformed stream chunk", err)
			}
			if err := emit(chunk.text()); err != nil {
				return err
			}
			if reason := chunk.finishReason(); reason != "" {
				finishReason = reason
			}
			if chunk.UsageMetadata != nil && chunk.UsageMetadata.TotalTokenCount != nil {
				c.logger.Debug().Int64("total_tokens", *chunk.UsageMetadata.TotalTokenCount).Msg("content stream usage")
			}
		}

		if finishReason == "" {
			return llm.NewTransientError(llm.ProviderGoogle, "stream ended before completion", io.ErrUnexpectedEOF)
		}
		c.logger.Debug().Str("finish_reason", finishReason).Msg("content stream finished")
		return nil
	}
}

package cohere

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/transport"
	"github.com/tidwall/gjson"
)

// streamProducer emits the text of content-delta events until message-end.
// Events are typed by the SSE event name, or by the "type" field when the name
// is missing.
func (c *Client) streamProducer(body io.Reader) llm.Producer {
	return func(_ context.Context, emit func(string) error) error {
		scanner := transport.NewSSEScanner(body)
		for {
			evt, err := scanner.Next()
			if errors.Is(err, io.EOF) {
				return llm.NewTransientError(llm.ProviderCohere, "stream ended before completion", io.ErrUnexpectedEOF)
			}
			if err != nil {
				return llm.Normalize(llm.ProviderCohere, err)
			}
			if !gjson.Valid(evt.Data) {
				return llm.NewPermanentError(llm.ProviderCohere, "malformed stream event", nil)
			}

			data := gjson.Parse(evt.Data)
			name := evt.Name
			if name == "" {
				name = data.Get("type").String()
			}

			switch name {
			case eventContentDelta:
				if err := emit(data.Get("delta.message.content.text").String()); err != nil {
					return err
				}
			case eventMessageEnd:
				c.logger.Debug().
					Str("finish_reason", data.Get("delta.finish_reason").String()).
					Int64("output_tokens", data.Get("delta.usage.tokens.output_tokens").Int()).
					Msg("chat stream finished")
				return nil
			case eventError:
				return streamError(data, evt.Data)
			}
		}
	}
}

// streamError classifies an error event by the HTTP status it carries. Events
// without one are treated as transient.
func streamError(data gjson.Result, raw string) error {
	message := transport.ErrorMessage([]byte(raw))
	for _, path := range statusPaths {
		if status := data.Get(path); status.Type == gjson.Number && status.Int() >= 400 {
			return llm.ClassifyStatus(llm.ProviderCohere, int(status.Int()), message, http.Header{}, errors.New(raw))
		}
	}
	return llm.NewTransientError(llm.ProviderCohere, message, errors.New(raw))
}

var statusPaths = []string{"status_code", "http_status", "code", "error.status_code", "error.code"}

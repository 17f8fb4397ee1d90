package openai

import (
	"context"
	"errors"
	"io"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	openai "github.com/sashabaranov/go-openai"
)

// streamProducer reads chat completion chunks and emits their content deltas.
// A stream that ends without any choice reporting a finish reason was cut off by
// the transport and fails with a transient error.
func (c *Client) streamProducer(stream *openai.ChatCompletionStream) llm.Producer {
	return func(_ context.Context, emit func(string) error) error {
		finished := false
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if !finished {
					return llm.NewTransientError(c.profile.Provider, "stream ended before completion", io.ErrUnexpectedEOF)
				}
				return nil
			}
			if err != nil {
				return convertError(c.profile.Provider, err, nil)
			}

			if response.Usage != nil {
				c.logger.Debug().
					Int("prompt_tokens", response.Usage.PromptTokens).
					Int("completion_tokens", response.Usage.CompletionTokens).
					Msg("chat completion stream usage")
			}

			for _, choice := range response.Choices {
				if err := emit(choice.Delta.Content); err != nil {
					return err
				}
				if choice.FinishReason != "" {
					finished = true
				}
			}
		}
	}
}

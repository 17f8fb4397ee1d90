package ollama

import (
	"context"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/ollama/ollama/api"
)

// streamProducer runs the chat request and emits each message delta. Ollama sends
// only the new text in every response line; the last line has Done set.
func (c *Client) streamProducer(req *api.ChatRequest) llm.Producer {
	return func(ctx context.Context, emit func(string) error) error {
		done := false
		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if err := emit(resp.Message.Content); err != nil {
				return err
			}
			if resp.Done {
				done = true
				c.logger.Debug().
					Str("done_reason", resp.DoneReason).
					Int("prompt_tokens", resp.PromptEvalCount).
					Int("completion_tokens", resp.EvalCount).
					Msg("chat stream finished")
			}
			return nil
		})
		if err != nil {
			return convertError(err)
		}
		if !done {
			return llm.NewTransientError(llm.ProviderOllama, "stream ended before completion", nil)
		}
		return nil
	}
}

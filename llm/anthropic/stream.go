package anthropic

import (
	"context"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// streamProducer emits the text deltas of an Anthropic message stream whose
// first event has already been read.
func (c *Client) streamProducer(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) llm.Producer {
	return func(_ context.Context, emit func(string) error) error {
		stopped := false
		for ok := true; ok; ok = stream.Next() {
			switch evt := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if d, isText := evt.Delta.AsAny().(anthropic.TextDelta); isText {
					if err := emit(d.Text); err != nil {
						return err
					}
				}
			case anthropic.MessageDeltaEvent:
				c.logger.Debug().
					Int64("output_tokens", evt.Usage.OutputTokens).
					Str("stop_reason", string(evt.Delta.StopReason)).
					Msg("message stream delta")
			case anthropic.MessageStopEvent:
				stopped = true
			}
		}

		if err := stream.Err(); err != nil {
			return convertError(err)
		}
		if !stopped {
			return llm.NewTransientError(llm.ProviderAnthropic, "stream ended before completion", nil)
		}
		return nil
	}
}

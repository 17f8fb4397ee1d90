package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewLoggingMiddleware returns middleware that logs every call with a request id,
// latency, token usage and error kind.
func NewLoggingMiddleware(logger zerolog.Logger) Middleware {
	logger = logger.With().Str("component", "llm").Logger()
	return MiddlewareFunc{
		BeforeRequestFunc: func(_ context.Context, req *Request) (*Request, error) {
			if req.ID == "" {
				req.ID = uuid.NewString()
			}
			logger.Debug().
				Str("request_id", req.ID).
				Str("operation", string(req.Operation)).
				Str("provider", req.Provider).
				Str("model", req.Model).
				Int("texts", len(req.Texts)).
				Msg("LLM request started")
			return req, nil
		},
		AfterResponseFunc: func(_ context.Context, req *Request, resp *Response) (*Response, error) {
			evt := logger.Info().
				Str("request_id", req.ID).
				Str("operation", string(req.Operation)).
				Str("provider", req.Provider).
				Str("model", req.Model).
				Dur("latency", time.Since(req.StartedAt))
			switch {
			case resp.Generation != nil:
				evt = withUsage(evt, resp.Generation.Usage).Str("finish_reason", resp.Generation.FinishReason)
			case resp.Embedding != nil:
				evt = withUsage(evt, resp.Embedding.Usage).Int("vectors", len(resp.Embedding.Vectors))
			}
			evt.Msg("LLM request completed")
			return resp, nil
		},
		OnErrorFunc: func(_ context.Context, req *Request, err error) error {
			logger.Warn().
				Str("request_id", req.ID).
				Str("operation", string(req.Operation)).
				Str("provider", req.Provider).
				Str("model", req.Model).
				Str("kind", string(KindOf(err))).
				Dur("latency", time.Since(req.StartedAt)).
				Err(err).
				Msg("LLM request failed")
			return err
		},
	}
}

func withUsage(evt *zerolog.Event, u Usage) *zerolog.Event {
	if u.PromptTokens != nil {
		evt = evt.Int64("prompt_tokens", *u.PromptTokens)
	}
	if u.CompletionTokens != nil {
		evt = evt.Int64("completion_tokens", *u.CompletionTokens)
	}
	if u.TotalTokens != nil {
		evt = evt.Int64("total_tokens", *u.TotalTokens)
	}
	return evt
}

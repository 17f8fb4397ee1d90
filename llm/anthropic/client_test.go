package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(llm.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
		Defaults:   llm.GenerationConfig{Temperature: 0.2, MaxOutputTokens: 100, System: "be brief"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

const messageResponse = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-haiku-4-5",
	"content": [{"type": "text", "text": "Hello"}, {"type": "text", "text": " there"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 4}
}`

func TestNewClient(t *testing.T) {
	if _, err := NewClient(llm.ClientConfig{}); !errors.Is(err, llm.ErrAuthentication) {
		t.Errorf("expected authentication error, got %v", err)
	}
	if _, err := NewClient(llm.ClientConfig{APIKey: "k", ModelVersion: "2.1"}); !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Errorf("expected unsupported model error, got %v", err)
	}

	client, err := NewClient(llm.ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if got := client.Identity().Model; got != "claude-haiku-4-5" {
		t.Errorf("unexpected default model %q", got)
	}
	if client.EmbeddingModel() != "" {
		t.Errorf("expected no embedding model")
	}
}

func TestEmbeddingNotSupported(t *testing.T) {
	client, err := NewClient(llm.ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.SetEmbeddingModel(context.Background(), "v1"); !errors.Is(err, llm.ErrCapabilityNotSupported) {
		t.Errorf("expected capability error from SetEmbeddingModel, got %v", err)
	}
	res, err := client.EmbedText(context.Background(), []string{"a"}, llm.DocumentTypeText)
	if res != nil || !errors.Is(err, llm.ErrCapabilityNotSupported) {
		t.Errorf("expected capability error from EmbedText, got %v", err)
	}
}

func TestSetGenerationModel(t *testing.T) {
	client, err := NewClient(llm.ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := client.SetGenerationModel(ctx, "sonnet-4-5"); err != nil {
			t.Fatalf("SetGenerationModel failed: %v", err)
		}
	}
	if got := client.Identity(); got.Model != "claude-sonnet-4-5" || got.Version != "sonnet-4-5" || got.Family != "claude" {
		t.Errorf("unexpected identity %+v", got)
	}
	if err := client.SetGenerationModel(ctx, "3-opus"); !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Errorf("expected unsupported model error, got %v", err)
	}
	if err := client.SetGenerationModel(ctx, ""); !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Errorf("expected unsupported model error for empty version, got %v", err)
	}
	if got := client.Identity().Model; got != "claude-sonnet-4-5" {
		t.Errorf("failed switches must not change the model, got %q", got)
	}
}

func TestGenerateText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		var body struct {
			Model       string  `json:"model"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float64 `json:"temperature"`
			System      []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "claude-haiku-4-5" || body.MaxTokens != 100 || body.Temperature != 0.2 {
			t.Errorf("unexpected request %+v", body)
		}
		if len(body.System) != 1 || body.System[0].Text != "be brief" {
			t.Errorf("expected system prompt, got %+v", body.System)
		}
		if len(body.Messages) != 3 || body.Messages[0].Role != "user" || body.Messages[1].Role != "assistant" {
			t.Errorf("unexpected messages %+v", body.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageResponse)
	})

	history := llm.NewHistory(llm.NewMessage(llm.RoleUser, "q1"), llm.NewMessage(llm.RoleAssistant, "a1"))
	res, err := client.GenerateText(context.Background(), "q2", &llm.GenerateOptions{History: history})
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if res.Text != "Hello there" || res.FinishReason != "end_turn" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens == nil || *res.Usage.TotalTokens != 14 {
		t.Errorf("expected derived total 14, got %v", res.Usage.TotalTokens)
	}
	if history.Len() != 4 {
		t.Errorf("expected 4 history messages, got %d", history.Len())
	}
}

func TestGenerateTextErrors(t *testing.T) {
	tests := []struct {
		status  int
		errType string
		want    error
	}{
		{http.StatusTooManyRequests, "rate_limit_error", llm.ErrRateLimit},
		{http.StatusInternalServerError, "api_error", llm.ErrTransient},
		{529, "overloaded_error", llm.ErrTransient},
		{http.StatusBadRequest, "invalid_request_error", llm.ErrPermanent},
		{http.StatusUnauthorized, "authentication_error", llm.ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.errType, func(t *testing.T) {
			calls := 0
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":"vendor message"}}`, tt.errType)
			})
			_, err := client.GenerateText(context.Background(), "Hi", nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if calls != 1 {
				t.Errorf("client must not retry, got %d calls", calls)
			}
			var llmErr *llm.Error
			if errors.As(err, &llmErr) && llmErr.Message != "vendor message" {
				t.Errorf("expected vendor message, got %q", llmErr.Message)
			}
			if tt.want == llm.ErrRateLimit {
				if d := llm.ExtractRetryAfter(err); d == nil || *d != 2*time.Second {
					t.Errorf("expected 2s retry-after, got %v", d)
				}
			}
		})
	}
}

func sseEvent(w io.Writer, name, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func writeStreamPrefix(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5","content":[],"stop_reason":null,"usage":{"input_tokens":5,"output_tokens":0}}}`)
	sseEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
}

func textDelta(text string) string {
	return fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text)
}

func TestStreamText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStreamPrefix(w)
		sseEvent(w, "ping", `{"type":"ping"}`)
		for _, part := range []string{"Hel", "lo", " world"} {
			sseEvent(w, "content_block_delta", textDelta(part))
		}
		sseEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		sseEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	stream, err := client.StreamText(context.Background(), "Hi", nil)
	if err != nil {
		t.Fatalf("StreamText failed: %v", err)
	}
	var parts []string
	for stream.Next() {
		parts = append(parts, stream.Text())
	}
	_ = stream.Close()
	if err := stream.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(parts, "|") != "Hel|lo| world" {
		t.Errorf("unexpected fragments %q", parts)
	}
}

func TestStreamTextMidStreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStreamPrefix(w)
		sseEvent(w, "content_block_delta", textDelta("Hel"))
		sseEvent(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	stream, err := client.StreamText(context.Background(), "Hi", nil)
	if err != nil {
		t.Fatalf("StreamText failed: %v", err)
	}
	text, err := llm.Collect(stream)
	if text != "Hel" {
		t.Errorf("expected partial text, got %q", text)
	}
	if !errors.Is(err, llm.ErrTransient) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestStreamTextStartFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	history := llm.NewHistory()
	_, err := client.StreamText(context.Background(), "Hi", &llm.GenerateOptions{History: history})
	if !errors.Is(err, llm.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if history.Len() != 0 {
		t.Errorf("expected history rollback")
	}
}

func TestStreamTextChunkTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamPrefix(w)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewClient(llm.ClientConfig{
		APIKey:             "k",
		BaseURL:            srv.URL,
		HTTPClient:         srv.Client(),
		StreamChunkTimeout: 100 * time.Millisecond,
		Logger:             zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	stream, err := client.StreamText(context.Background(), "Hi", nil)
	if err != nil {
		t.Fatalf("StreamText failed: %v", err)
	}
	defer stream.Close()
	if stream.Next() {
		t.Fatalf("expected no fragment from a stalled stream")
	}
	if !errors.Is(stream.Err(), llm.ErrTransient) {
		t.Errorf("expected transient timeout error, got %v", stream.Err())
	}
}

func TestEveryCatalogModelSelectable(t *testing.T) {
	client, err := NewClient(llm.ClientConfig{APIKey: "k", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	family := client.Identity().Family
	for _, key := range Models.Keys() {
		version, ok := llm.VersionOf(family, "-", key)
		if !ok {
			t.Errorf("catalog model %q is not in the default family %q", key, family)
			continue
		}
		if err := client.SetGenerationModel(context.Background(), version); err != nil {
			t.Errorf("SetGenerationModel(%q) for %q failed: %v", version, key, err)
			continue
		}
		if got := client.Identity().Model; got != key {
			t.Errorf("expected active model %q, got %q", key, got)
		}
	}
}

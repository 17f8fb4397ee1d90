package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
)

const modelList = `{"models":[
	{"name":"models/gemini-2.0-flash","inputTokenLimit":1048576,"outputTokenLimit":8192,"supportedGenerationMethods":["generateContent","countTokens"]},
	{"name":"models/gemini-2.5-pro","inputTokenLimit":1048576,"outputTokenLimit":65536,"supportedGenerationMethods":["generateContent"]},
	{"name":"models/text-embedding-004","inputTokenLimit":2048,"outputTokenLimit":1,"supportedGenerationMethods":["embedContent"]}
]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(llm.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func replyJSON(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP"}],`+
		`"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6},"modelVersion":"gemini-2.0-flash"}`, text)
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(llm.ClientConfig{}); !errors.Is(err, llm.ErrAuthentication) {
		t.Errorf("expected authentication error, got %v", err)
	}
	client, err := NewClient(llm.ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if got := client.Identity(); got.Model != "gemini-2.0-flash" || got.Provider != llm.ProviderGoogle {
		t.Errorf("unexpected identity %+v", got)
	}
	if client.EmbeddingModel() != DefaultEmbeddingModel {
		t.Errorf("unexpected embedding model %q", client.EmbeddingModel())
	}
	if _, ok := client.Capability(); !ok {
		t.Errorf("expected known capability for the default model")
	}
}

func TestGenerateText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Contents) != 3 || req.Contents[1].Role != "model" || req.Contents[2].Parts[0].Text != "q2" {
			t.Errorf("unexpected contents %+v", req.Contents)
		}
		if *req.GenerationConfig.Temperature != 0.7 || *req.GenerationConfig.MaxOutputTokens != 512 {
			t.Errorf("unexpected generation config %+v", req.GenerationConfig)
		}
		_, _ = io.WriteString(w, replyJSON("pong"))
	})

	history := llm.NewHistory(llm.NewMessage(llm.RoleUser, "q1"), llm.NewMessage(llm.RoleAssistant, "a1"))
	res, err := client.GenerateText(context.Background(), "q2", &llm.GenerateOptions{History: history})
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if res.Text != "pong" || res.FinishReason != "STOP" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens == nil || *res.Usage.TotalTokens != 6 {
		t.Errorf("unexpected usage %+v", res.Usage)
	}
	if history.Len() != 4 {
		t.Errorf("expected 4 history messages, got %d", history.Len())
	}
}

func TestGenerateTextBlocked(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	})
	_, err := client.GenerateText(context.Background(), "Hi", nil)
	if !errors.Is(err, llm.ErrPermanent) || !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("expected permanent blocked error, got %v", err)
	}
}

func TestGenerateTextErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, llm.ErrRateLimit},
		{http.StatusServiceUnavailable, llm.ErrTransient},
		{http.StatusBadRequest, llm.ErrPermanent},
		{http.StatusForbidden, llm.ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"vendor says no","status":"X"}}`, tt.status)
			})
			history := llm.NewHistory()
			_, err := client.GenerateText(context.Background(), "Hi", &llm.GenerateOptions{History: history})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if history.Len() != 0 {
				t.Errorf("expected history rollback")
			}
		})
	}
}

func TestSetGenerationModelDiscovery(t *testing.T) {
	var listCalls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			listCalls.Add(1)
			_, _ = io.WriteString(w, modelList)
			return
		}
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	ctx := context.Background()

	if err := client.SetGenerationModel(ctx, "2.5-pro"); err != nil {
		t.Fatalf("SetGenerationModel failed: %v", err)
	}
	capability, ok := client.Capability()
	if !ok || capability.DefaultOutputTokens != 65536 {
		t.Errorf("expected discovered capability, got %+v", capability)
	}
	if err := client.SetGenerationModel(ctx, "1.0-ultra"); !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Errorf("expected unsupported model error, got %v", err)
	}
	if err := client.SetEmbeddingModel(ctx, "gemini-2.0-flash"); !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Errorf("generation models must not be accepted for embeddings, got %v", err)
	}
	if client.Identity().Model != "gemini-2.5-pro" {
		t.Errorf("failed switches must keep the model, got %q", client.Identity().Model)
	}
	if listCalls.Load() != 3 {
		t.Errorf("expected one discovery call per switch, got %d", listCalls.Load())
	}

	names, err := client.AvailableModels(ctx, MethodGenerateContent)
	if err != nil {
		t.Fatalf("AvailableModels failed: %v", err)
	}
	if strings.Join(names, ",") != "gemini-2.0-flash,gemini-2.5-pro" {
		t.Errorf("unexpected models %v", names)
	}
}

func TestSetGenerationModelDiscoveryFailsClosed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := client.SetGenerationModel(context.Background(), "2.5-pro")
	if !errors.Is(err, llm.ErrTransient) {
		t.Fatalf("expected discovery failure, got %v", err)
	}
	if client.Identity().Model != "gemini-2.0-flash" {
		t.Errorf("model changed despite failed discovery")
	}
}

func TestListModelsPagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = io.WriteString(w, `{"models":[{"name":"models/a","supportedGenerationMethods":["generateContent"]}],"nextPageToken":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"models":[{"name":"models/b","supportedGenerationMethods":["generateContent"]}]}`)
	})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if _, ok := models["a"]; !ok {
		t.Errorf("missing first page")
	}
	if _, ok := models["b"]; !ok {
		t.Errorf("missing second page")
	}
}

func TestChatSession(t *testing.T) {
	var mu sync.Mutex
	var contentsSeen []int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			_, _ = io.WriteString(w, modelList)
			return
		}
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		contentsSeen = append(contentsSeen, len(req.Contents))
		mu.Unlock()
		_, _ = io.WriteString(w, replyJSON("ok"))
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Chat(ctx, fmt.Sprintf("turn %d", i), nil); err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
	}
	session := client.Session()
	if len(session.Messages()) != 4 {
		t.Errorf("expected 4 session messages, got %d", len(session.Messages()))
	}

	// Stateless calls do not touch the session.
	if _, err := client.GenerateText(ctx, "one-shot", nil); err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}

	if err := client.SetGenerationModel(ctx, "2.5-pro"); err != nil {
		t.Fatalf("SetGenerationModel failed: %v", err)
	}
	if client.Session() == session {
		t.Errorf("model change must invalidate the session")
	}
	if _, err := client.Chat(ctx, "fresh", nil); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	want := []int{1, 3, 1, 1}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(contentsSeen) != fmt.Sprint(want) {
		t.Errorf("expected contents sizes %v, got %v", want, contentsSeen)
	}

	client.ResetSession()
	if len(client.Session().Messages()) != 0 {
		t.Errorf("expected an empty session after reset")
	}
}

func TestChatSessionFailureKeepsTranscript(t *testing.T) {
	var fail atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, replyJSON("ok"))
	})
	ctx := context.Background()
	if _, err := client.Chat(ctx, "first", nil); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	fail.Store(true)
	if _, err := client.Chat(ctx, "second", nil); !errors.Is(err, llm.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := len(client.Session().Messages()); n != 2 {
		t.Errorf("failed turn must not be recorded, got %d messages", n)
	}
}

func TestStreamText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected stream URL %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]}}]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":" world"}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":9}}`+"\n\n")
	})

	history := llm.NewHistory()
	stream, err := client.StreamText(context.Background(), "Hi", &llm.GenerateOptions{History: history})
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
	msgs := history.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Hello world" {
		t.Errorf("unexpected history %+v", msgs)
	}
}

func TestStreamTextErrors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\n\n")
		})
		stream, err := client.StreamText(context.Background(), "Hi", nil)
		if err != nil {
			t.Fatalf("StreamText failed: %v", err)
		}
		text, err := llm.Collect(stream)
		if text != "Hel" || !errors.Is(err, llm.ErrTransient) {
			t.Errorf("expected partial text and transient error, got %q, %v", text, err)
		}
	})

	t.Run("error chunk", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\n\n")
			_, _ = io.WriteString(w, `data: {"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`+"\n\n")
		})
		stream, err := client.StreamText(context.Background(), "Hi", nil)
		if err != nil {
			t.Fatalf("StreamText failed: %v", err)
		}
		if _, err := llm.Collect(stream); !errors.Is(err, llm.ErrRateLimit) {
			t.Errorf("expected rate limit error, got %v", err)
		}
	})

	t.Run("start failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"models/gemini-2.0-flash is not found"}}`)
		})
		if _, err := client.StreamText(context.Background(), "Hi", nil); !errors.Is(err, llm.ErrUnsupportedModel) {
			t.Errorf("expected unsupported model error, got %v", err)
		}
	})
}

func TestEmbedText(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/models/text-embedding-004:batchEmbedContents" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req batchEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Requests[0].TaskType != "RETRIEVAL_QUERY" || req.Requests[0].Model != "models/text-embedding-004" {
			t.Errorf("unexpected request %+v", req.Requests[0])
		}
		var b strings.Builder
		b.WriteString(`{"embeddings":[`)
		for i, r := range req.Requests {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"values":[%d]}`, len(r.Content.Parts[0].Text))
		}
		b.WriteString("]}")
		_, _ = io.WriteString(w, b.String())
	})

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	res, err := client.EmbedText(context.Background(), texts, llm.DocumentTypeQuery)
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 batches, got %d", calls.Load())
	}
	if len(res.Vectors) != 150 {
		t.Fatalf("expected 150 vectors, got %d", len(res.Vectors))
	}
	for i, v := range res.Vectors {
		if int(v[0]) != i+1 {
			t.Fatalf("vector %d out of order: %v", i, v)
		}
	}
	if res.Usage.TotalTokens != nil {
		t.Errorf("usage must not be fabricated")
	}

	empty, err := client.EmbedText(context.Background(), nil, llm.DocumentTypeText)
	if err != nil || len(empty.Vectors) != 0 || calls.Load() != 2 {
		t.Errorf("empty input must not call the vendor")
	}
	if _, err := client.EmbedText(context.Background(), []string{"a"}, "xlsx"); !errors.Is(err, llm.ErrPermanent) {
		t.Errorf("expected permanent error for unknown document type, got %v", err)
	}
}

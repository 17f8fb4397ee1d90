package transport

import (
	"context"
	"errors"
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
	header := http.Header{}
	header.Set("x-api-key", "secret")
	return New("acme", srv.URL+"/", srv.Client(), header, zerolog.Nop())
}

func TestPostJSONSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/echo" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("expected api key header, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"name":"ping"`) {
			t.Errorf("unexpected body %s", body)
		}
		_, _ = w.Write([]byte(`{"reply":"pong"}`))
	})

	var out struct {
		Reply string `json:"reply"`
	}
	err := client.PostJSON(context.Background(), "/v1/echo", map[string]string{"name": "ping"}, &out)
	if err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out.Reply != "pong" {
		t.Errorf("expected pong, got %q", out.Reply)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		body     string
		wantKind llm.ErrorKind
		wantMsg  string
	}{
		{
			name:     "rate limit with retry-after",
			status:   http.StatusTooManyRequests,
			header:   map[string]string{"Retry-After": "7"},
			body:     `{"error":{"message":"slow down"}}`,
			wantKind: llm.KindRateLimit,
			wantMsg:  "slow down",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"message":"boom"}`,
			wantKind: llm.KindTransient,
			wantMsg:  "boom",
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid field"}`,
			wantKind: llm.KindPermanent,
			wantMsg:  "invalid field",
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `not json`,
			wantKind: llm.KindAuthentication,
			wantMsg:  "not json",
		},
		{
			name:     "model not found",
			status:   http.StatusNotFound,
			body:     `{"error":{"message":"model foo not found"}}`,
			wantKind: llm.KindUnsupportedModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := client.PostJSON(context.Background(), "/x", map[string]string{}, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			var llmErr *llm.Error
			if !errors.As(err, &llmErr) {
				t.Fatalf("expected *llm.Error, got %T", err)
			}
			if llmErr.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, llmErr.Kind)
			}
			if llmErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, llmErr.StatusCode)
			}
			if tt.wantMsg != "" && llmErr.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, llmErr.Message)
			}
			if tt.wantKind == llm.KindRateLimit {
				if llmErr.RetryAfter == nil || *llmErr.RetryAfter != 7*time.Second {
					t.Errorf("expected 7s retry-after, got %v", llmErr.RetryAfter)
				}
			}
		})
	}
}

func TestGetJSONMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"models": [`))
	})

	var out map[string]any
	err := client.GetJSON(context.Background(), "/models", &out)
	if !errors.Is(err, llm.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := New("acme", url, nil, nil, zerolog.Nop())
	err := client.PostJSON(context.Background(), "/x", map[string]string{}, nil)
	if !errors.Is(err, llm.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestPostStreamAndSSE(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "event: content-delta\ndata: {\"text\":\"Hel\"}\n\n")
		_, _ = io.WriteString(w, "data: line one\ndata: line two\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		_, _ = io.WriteString(w, "data: never read\n\n")
	})

	body, err := client.PostStream(context.Background(), "/stream", map[string]bool{"stream": true})
	if err != nil {
		t.Fatalf("PostStream failed: %v", err)
	}
	defer body.Close()

	scanner := NewSSEScanner(body)

	evt, err := scanner.Next()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if evt.Name != "content-delta" || evt.Data != `{"text":"Hel"}` {
		t.Errorf("unexpected first event %+v", evt)
	}

	evt, err = scanner.Next()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if evt.Name != "" || evt.Data != "line one\nline two" {
		t.Errorf("unexpected second event %+v", evt)
	}

	if _, err := scanner.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at [DONE], got %v", err)
	}
}

func TestSSETrailingEventWithoutBlankLine(t *testing.T) {
	scanner := NewSSEScanner(strings.NewReader("data: tail"))
	evt, err := scanner.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Data != "tail" {
		t.Errorf("expected tail, got %q", evt.Data)
	}
	if _, err := scanner.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"nested"}}`, "nested"},
		{`{"message":"flat"}`, "flat"},
		{`{"detail":"detail"}`, "detail"},
		{`{"error":"plain"}`, "plain"},
		{`{"other":1}`, ""},
		{`  oops  `, "oops"},
	}
	for _, tt := range tests {
		if got := ErrorMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("ErrorMessage(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

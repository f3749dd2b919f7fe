package generative

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	nopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"EmpathyChat/internal/session"
)

func newTestOllama(endpoint string, timeout time.Duration) *Ollama {
	return NewOllama(endpoint, "llama3:latest", timeout,
		noop.NewTracerProvider().Tracer("test"),
		nopmetric.NewMeterProvider().Meter("test"),
		nil)
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("got %d messages, want 2", len(req.Messages))
		}
		if req.Messages[1]["role"] != "assistant" {
			t.Errorf("system turn mapped to role %q", req.Messages[1]["role"])
		}
		w.Write([]byte(`{"message":{"content":"Tell me more about that."}}`))
	}))
	defer srv.Close()

	g := newTestOllama(srv.URL, time.Second)
	got, err := g.Generate(context.Background(), []session.Turn{
		{Role: session.RoleUser, Text: "something vague"},
		{Role: session.RoleSystem, Text: "a previous reply"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Tell me more about that." {
		t.Errorf("got %q", got)
	}
}

func TestGenerateFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestOllama(srv.URL, time.Second)
	if _, err := g.Generate(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("server error: got %v, want ErrUnavailable", err)
	}

	down := newTestOllama("http://127.0.0.1:1", 100*time.Millisecond)
	if _, err := down.Generate(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("connection refused: got %v, want ErrUnavailable", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"message":{"content":"too late"}}`))
	}))
	defer srv.Close()

	g := newTestOllama(srv.URL, 50*time.Millisecond)
	if _, err := g.Generate(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("timeout: got %v, want ErrUnavailable", err)
	}
}

package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestKeywordClassify(t *testing.T) {
	var k Keyword

	tests := []struct {
		text       string
		wantIntent string
		wantConf   float64
	}{
		{"hello there", "greeting", 0.75},
		{"I feel so stressed about work", "stressed", 0.75},
		{"I'm anxious all the time", "anxious", 0.75},
		{"feeling really sad today", "sad", 0.75},
		{"thank you so much", "thanks", 0.75},
		{"the weather is fine", "casual", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := k.Classify(context.Background(), tt.text)
			if err != nil {
				t.Fatal(err)
			}
			if got.Intent != tt.wantIntent || got.Confidence != tt.wantConf {
				t.Errorf("Classify(%q) = %+v, want {%s %v}", tt.text, got, tt.wantIntent, tt.wantConf)
			}
		})
	}
}

func TestHTTPClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"intent":"stressed","confidence":0.85}`))
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, time.Second, noop.NewTracerProvider().Tracer("test"), nil)
	got, err := c.Classify(context.Background(), "deadline pressure")
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != "stressed" || got.Confidence != 0.85 {
		t.Errorf("got %+v", got)
	}
}

func TestHTTPClassifyFailuresAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tracer := noop.NewTracerProvider().Tracer("test")

	c := NewHTTP(srv.URL, time.Second, tracer, nil)
	if _, err := c.Classify(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("server error: got %v, want ErrUnavailable", err)
	}

	down := NewHTTP("http://127.0.0.1:1", 100*time.Millisecond, tracer, nil)
	if _, err := down.Classify(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("connection refused: got %v, want ErrUnavailable", err)
	}
}

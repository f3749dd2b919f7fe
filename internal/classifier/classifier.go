// Package classifier defines the intent-classification collaborator:
// an HTTP client for an out-of-process classifier service and a
// rule-based keyword classifier used when no service is configured.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ErrUnavailable wraps any failure of the external classifier. The
// caller recovers locally; this never becomes a user-visible error.
var ErrUnavailable = errors.New("classifier unavailable")

// Result is the classifier's verdict on one message.
type Result struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classifier maps free text to (intent, confidence). Implementations
// must return within the caller's context deadline.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// HTTP calls an external classifier service.
type HTTP struct {
	url        string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewHTTP creates an HTTP classifier client with a bounded call time.
func NewHTTP(url string, timeout time.Duration, tracer trace.Tracer, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     tracer,
		logger:     logger,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify posts the message text to the classifier service.
func (c *HTTP) Classify(ctx context.Context, text string) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "classifier_call")
	defer span.End()

	jsonData, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to marshal request: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to create request: %w", ErrUnavailable, err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: API error: %s", ErrUnavailable, resp.Status)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("%w: failed to unmarshal response: %w", ErrUnavailable, err)
	}
	return res, nil
}

// Keyword is the rule-based fallback classifier. It is deliberately
// coarse: it exists so the service runs without the external model.
type Keyword struct{}

// keywordTable maps intents to trigger keywords, checked in order.
var keywordTable = []struct {
	intent   string
	keywords []string
}{
	{"greeting", []string{"hello", "hi ", "hey", "good morning", "good afternoon", "good evening"}},
	{"goodbye", []string{"bye", "goodbye", "see you", "gotta go"}},
	{"thanks", []string{"thank", "thanks", "appreciate"}},
	{"depressed", []string{"depressed", "depression", "hopeless"}},
	{"sad", []string{"sad", "down", "unhappy"}},
	{"anxious", []string{"anxious", "anxiety", "worried", "nervous", "panic"}},
	{"stressed", []string{"stressed", "stress", "overwhelmed", "pressure"}},
	{"happy", []string{"happy", "great", "wonderful", "excellent"}},
	{"help", []string{"help", "support", "assist"}},
}

// Classify matches the message against the keyword table. Unmatched
// messages come back as low-confidence "casual".
func (Keyword) Classify(_ context.Context, text string) (Result, error) {
	lower := strings.ToLower(text)
	for _, row := range keywordTable {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return Result{Intent: row.intent, Confidence: 0.75}, nil
			}
		}
	}
	return Result{Intent: "casual", Confidence: 0.5}, nil
}

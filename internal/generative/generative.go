// Package generative wraps the free-text fallback collaborator used
// when no persona template confidently applies. The production
// implementation talks to an Ollama chat endpoint; the router treats
// any failure as recoverable and substitutes a fixed response.
package generative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"EmpathyChat/internal/session"
)

// ErrUnavailable wraps any generative-backend failure.
var ErrUnavailable = errors.New("generative backend unavailable")

// Generator produces a free-text continuation from recent
// (pre-anonymized) turn history.
type Generator interface {
	Generate(ctx context.Context, history []session.Turn) (string, error)
}

// Ollama calls a local Ollama chat endpoint.
type Ollama struct {
	endpoint   string
	model      string
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
	logger     *slog.Logger
}

// NewOllama creates an Ollama-backed Generator with a bounded call
// time.
func NewOllama(endpoint, model string, timeout time.Duration, tracer trace.Tracer, meter metric.Meter, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     tracer,
		meter:      meter,
		logger:     logger,
	}
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Generate sends the history to the chat endpoint and returns its
// continuation.
func (o *Ollama) Generate(ctx context.Context, history []session.Turn) (string, error) {
	ctx, span := o.tracer.Start(ctx, "generative_fallback_call")
	defer span.End()

	start := time.Now()

	reqMessages := make([]map[string]string, len(history))
	for i, turn := range history {
		role := "user"
		if turn.Role == session.RoleSystem {
			role = "assistant"
		}
		reqMessages[i] = map[string]string{
			"role":    role,
			"content": turn.Text,
		}
	}

	reqBody := chatRequest{
		Model:    o.model,
		Messages: reqMessages,
		Stream:   false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", ErrUnavailable, err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: API error: %s", ErrUnavailable, resp.Status)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal response: %w", ErrUnavailable, err)
	}
	if apiResp.Message.Content == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	duration := time.Since(start)
	histogram, err := o.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	return apiResp.Message.Content, nil
}

// ABOUTME: HTTP-backed reply generator calling an external completion service
// ABOUTME: Implements the ingress Generator contract; failure stays invisible to visitors

package responder

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

	"github.com/chatseam/chatseam/internal/store"
)

// ErrUnavailable is returned when the completion service cannot be reached.
var ErrUnavailable = errors.New("responder service unavailable")

// transcriptMessage is one turn in the request transcript.
type transcriptMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type generateRequest struct {
	SystemPrompt string              `json:"system_prompt"`
	Messages     []transcriptMessage `json:"messages"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// HTTPGenerator produces automated replies by POSTing the transcript to an
// external completion endpoint.
type HTTPGenerator struct {
	endpoint string
	apiToken string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPGenerator creates a generator. apiToken may be empty for
// unauthenticated endpoints.
func NewHTTPGenerator(endpoint, apiToken string, timeout time.Duration, logger *slog.Logger) *HTTPGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGenerator{
		endpoint: endpoint,
		apiToken: apiToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "responder"),
	}
}

// Generate asks the completion service for a reply to the transcript.
func (g *HTTPGenerator) Generate(ctx context.Context, systemPrompt string, history []*store.Message) (string, error) {
	reqBody := generateRequest{
		SystemPrompt: systemPrompt,
		Messages:     make([]transcriptMessage, len(history)),
	}
	for i, m := range history {
		reqBody.Messages[i] = transcriptMessage{Sender: m.Sender, Content: m.Content}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion service returned %d: %s", resp.StatusCode, snippet)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Reply, nil
}

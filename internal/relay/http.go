// ABOUTME: HTTP implementation of the relay Client with bearer auth and bounded timeouts
// ABOUTME: Caches the bot's self identity after the first successful fetch

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPClient talks to the relay target's REST API.
type HTTPClient struct {
	baseURL  string
	apiToken string
	http     *http.Client
	logger   *slog.Logger

	// identity is fetched lazily and cached for the process lifetime.
	identityMu sync.Mutex
	identity   string
}

// NewHTTPClient creates a relay client for the given base URL.
// All requests are bounded by timeout.
func NewHTTPClient(baseURL, apiToken string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "relay"),
	}
}

type createThreadRequest struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

type createThreadResponse struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	DisplayName string `json:"display_name,omitempty"`
}

type sendMessageResponse struct {
	MessageID string `json:"message_id"`
}

type listMessagesResponse struct {
	Messages []struct {
		ID        string    `json:"id"`
		Content   string    `json:"content"`
		AuthorID  string    `json:"author_id"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"messages"`
}

type identityResponse struct {
	ID string `json:"id"`
}

// CreateThread opens a thread carrying the conversation's first message.
func (c *HTTPClient) CreateThread(ctx context.Context, channelID, title, firstMessage string) (*Thread, error) {
	var resp createThreadResponse
	err := c.do(ctx, http.MethodPost, "/v1/threads", createThreadRequest{
		ChannelID: channelID,
		Title:     title,
		Content:   firstMessage,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("created relay thread", "thread_id", resp.ThreadID)
	return &Thread{ThreadID: resp.ThreadID, MessageID: resp.MessageID}, nil
}

// SendMessage posts to an existing thread.
func (c *HTTPClient) SendMessage(ctx context.Context, threadID, content, displayName string) (string, error) {
	var resp sendMessageResponse
	path := "/v1/threads/" + url.PathEscape(threadID) + "/messages"
	err := c.do(ctx, http.MethodPost, path, sendMessageRequest{
		Content:     content,
		DisplayName: displayName,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// ListMessages returns thread messages after the given id, oldest first.
func (c *HTTPClient) ListMessages(ctx context.Context, threadID, after string) ([]Message, error) {
	path := "/v1/threads/" + url.PathEscape(threadID) + "/messages"
	if after != "" {
		path += "?after=" + url.QueryEscape(after)
	}

	var resp listMessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, Message{
			ID:        m.ID,
			Content:   m.Content,
			AuthorID:  m.AuthorID,
			Timestamp: m.Timestamp,
		})
	}
	return messages, nil
}

// SelfIdentity returns the relay bot's own author id, fetching it once and
// caching it for the process lifetime.
func (c *HTTPClient) SelfIdentity(ctx context.Context) (string, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	if c.identity != "" {
		return c.identity, nil
	}

	var resp identityResponse
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("relay returned empty identity")
	}

	c.identity = resp.ID
	c.logger.Info("fetched relay self identity", "identity", resp.ID)
	return c.identity, nil
}

// do executes one JSON request against the relay API.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a bounded slice of the body for the error message
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding relay response: %w", err)
		}
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)

// ABOUTME: HTTP API handlers for the widget and dashboard surfaces
// ABOUTME: JSON request/response types plus the SSE stream endpoint

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chatseam/chatseam/internal/ingress"
	"github.com/chatseam/chatseam/internal/markup"
	"github.com/chatseam/chatseam/internal/store"
)

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ProjectID    string `json:"project_id"`
	VisitorID    string `json:"visitor_id"`
	VisitorName  string `json:"visitor_name,omitempty"`
	VisitorEmail string `json:"visitor_email,omitempty"`
}

// UpdateConversationRequest is the JSON request body for PATCH /api/conversations/{id}.
type UpdateConversationRequest struct {
	Status string `json:"status"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	VisitorID    string `json:"visitor_id"`
	VisitorName  string `json:"visitor_name,omitempty"`
	VisitorEmail string `json:"visitor_email,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	ContentHTML    string `json:"content_html"`
	CreatedAt      string `json:"created_at"`
}

// ConversationMessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           c.ID,
		ProjectID:    c.ProjectID,
		VisitorID:    c.VisitorID,
		VisitorName:  c.VisitorName,
		VisitorEmail: c.VisitorEmail,
		Status:       c.Status,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		ContentHTML:    markup.Render(m.Content),
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

// handleCreateConversation handles POST /api/conversations.
// Idempotent per (project_id, visitor_id): repeated calls return the same
// conversation.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.VisitorID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "project_id and visitor_id are required")
		return
	}

	conv, err := g.ingress.GetOrCreateConversation(r.Context(), req.ProjectID, req.VisitorID, req.VisitorName, req.VisitorEmail)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to create conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListConversations handles GET /api/conversations?project_id=X&limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "project_id query param required")
		return
	}

	limit, ok := g.parseLimit(w, r, 100, 1000)
	if !ok {
		return
	}

	convs, err := g.store.ListConversations(r.Context(), projectID, limit)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ConversationResponse, len(convs))
	for i, c := range convs {
		response[i] = conversationResponse(c)
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.store.GetConversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleUpdateConversation handles PATCH /api/conversations/{id}.
// Only the status field is mutable; everything else about a conversation is
// immutable once recorded.
func (g *Gateway) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != store.StatusOpen && req.Status != store.StatusClosed {
		g.sendJSONError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	id := r.PathValue("id")
	if err := g.store.SetConversationStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to update conversation status", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	conv, err := g.store.GetConversation(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to reload conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListMessages handles GET /api/conversations/{id}/messages requests.
// A reconcile pass against the relay thread runs first so dashboard reads see
// operator replies even when no poller has picked them up yet; reconcile
// failure degrades to serving what the store already has.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit, ok := g.parseLimit(w, r, 50, 1000)
	if !ok {
		return
	}

	if g.reconciler != nil {
		if _, err := g.reconciler.Sync(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("pre-read reconcile failed, serving stored transcript", "conversation_id", id, "error", err)
		}
	}

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to get conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages, err := g.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to list messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ConversationMessagesResponse{
		ConversationID: id,
		Messages:       make([]MessageResponse, len(messages)),
	}
	for i, m := range messages {
		response.Messages[i] = messageResponse(m)
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
// The response confirms only that the message is durably recorded; relay
// delivery and automated replies happen after the response is written.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.ingress.SendMessage(r.Context(), r.PathValue("id"), req.Sender, req.Content)
	switch {
	case errors.Is(err, ingress.ErrEmptyContent):
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
	case errors.Is(err, ingress.ErrInvalidSender):
		g.sendJSONError(w, http.StatusBadRequest, "sender must be visitor or agent")
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case err != nil:
		g.logger.Error("failed to send message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.sendJSON(w, http.StatusCreated, messageResponse(msg))
	}
}

// parseLimit reads the optional ?limit=N query param. Writes the error
// response itself and returns ok=false when the value is malformed.
func (g *Gateway) parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if parsed > max {
		parsed = max
	}
	return parsed, true
}

// sendJSON writes a JSON response body with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

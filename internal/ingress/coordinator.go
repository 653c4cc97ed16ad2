// ABOUTME: Ingress coordinator - the single path every inbound message flows through
// ABOUTME: Record first, then publish; relay and automated replies stay off the critical path

package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatseam/chatseam/internal/bus"
	"github.com/chatseam/chatseam/internal/markup"
	"github.com/chatseam/chatseam/internal/relay"
	"github.com/chatseam/chatseam/internal/retrieve"
	"github.com/chatseam/chatseam/internal/store"
)

// ErrEmptyContent is returned for empty or whitespace-only message content
var ErrEmptyContent = errors.New("message content is empty")

// ErrInvalidSender is returned for sender roles other than visitor or agent
var ErrInvalidSender = errors.New("invalid sender role")

// historyLimit bounds the transcript slice handed to the reply generator.
const historyLimit = 50

// Generator produces automated replies. It is treated as opaque, potentially
// slow and potentially failing; its failure is invisible to the sender.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []*store.Message) (string, error)
}

// Config carries the coordinator's relay and responder settings.
type Config struct {
	RelayChannelID string
	RelayBotName   string
	RelayTimeout   time.Duration
	SystemPrompt   string
}

// Coordinator orchestrates the three effects of each inbound message:
// persist it, publish a bus event, and relay it to the other channels.
// Persistence must complete before the publish; everything after the publish
// is fire-and-forget from the sender's perspective.
type Coordinator struct {
	store     store.Store
	bus       bus.Bus
	relay     relay.Client        // nil when relaying is disabled
	retriever *retrieve.Retriever // nil when no retrieval is configured
	generator Generator           // nil when automated replies are disabled
	cfg       Config
	logger    *slog.Logger
}

// New creates a coordinator. relay, retriever and generator may each be nil
// to disable that leg.
func New(st store.Store, b bus.Bus, rc relay.Client, rt *retrieve.Retriever, gen Generator, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = 8 * time.Second
	}
	return &Coordinator{
		store:     st,
		bus:       b,
		relay:     rc,
		retriever: rt,
		generator: gen,
		cfg:       cfg,
		logger:    logger.With("component", "ingress"),
	}
}

// GetOrCreateConversation resolves the visitor's conversation for a project,
// creating it on first contact. Returns store.ErrNotFound for an unknown
// project.
func (c *Coordinator) GetOrCreateConversation(ctx context.Context, projectID, visitorID, visitorName, visitorEmail string) (*store.Conversation, error) {
	if _, err := c.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	now := time.Now()
	return c.store.GetOrCreateConversation(ctx, &store.Conversation{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		VisitorID:    visitorID,
		VisitorName:  visitorName,
		VisitorEmail: visitorEmail,
		Status:       store.StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// SendMessage accepts an inbound message from the widget (sender "visitor")
// or the dashboard (sender "agent"), persists it, publishes its event and
// kicks off the fire-and-forget relay/reply leg. The sender gets a definitive
// answer about their own message; cross-channel effects fail silently into
// the logs.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID, sender, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if sender != store.SenderVisitor && sender != store.SenderAgent {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// Record first. The message must be readable from the store before any
	// subscriber can observe its event.
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	c.publish(ctx, msg)

	// Everything past this point is invisible to the sender.
	go c.afterPersist(conv, msg)

	return msg, nil
}

// publish emits the message's bus event. Publish failure never fails the
// send: the bus is a delivery hint and clients re-fetch from the store.
func (c *Coordinator) publish(ctx context.Context, msg *store.Message) {
	payload, err := bus.EncodeMessagePayload(bus.MessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		ContentHTML:    markup.Render(msg.Content),
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		c.logger.Error("failed to encode event payload", "error", err, "message_id", msg.ID)
		return
	}

	if err := c.bus.Publish(ctx, msg.ConversationID, payload); err != nil {
		c.logger.Warn("event publish failed",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
			"error", err)
	}
}

// afterPersist runs the relay forward and, for visitor messages, the
// automated reply. It uses a detached context so request cancellation does
// not abandon half-finished side effects.
func (c *Coordinator) afterPersist(conv *store.Conversation, msg *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RelayTimeout+30*time.Second)
	defer cancel()

	c.forwardToRelay(ctx, conv, msg)

	if msg.Sender == store.SenderVisitor && c.generator != nil {
		c.autoReply(ctx, conv, msg)
	}
}

// forwardToRelay posts the message into the conversation's relay thread,
// creating the thread on first relay. Failures are logged and retried
// naturally on the next message.
func (c *Coordinator) forwardToRelay(ctx context.Context, conv *store.Conversation, msg *store.Message) {
	if c.relay == nil {
		return
	}

	threadID := conv.ThreadID
	if threadID == "" {
		created, err := c.relay.CreateThread(ctx, c.cfg.RelayChannelID, threadTitle(conv), msg.Content)
		if err != nil {
			c.logger.Warn("relay thread creation failed",
				"conversation_id", conv.ID,
				"error", err)
			return
		}

		// The thread id must be durable before anything else sends to it.
		err = c.store.SetConversationThreadID(ctx, conv.ID, created.ThreadID)
		if err == nil {
			conv.ThreadID = created.ThreadID
			// Thread creation already carried this message.
			return
		}
		if errors.Is(err, store.ErrThreadAlreadySet) {
			// A concurrent forward claimed the thread first; our freshly
			// created one is orphaned on the relay side.
			c.logger.Warn("lost relay thread claim race, abandoning thread",
				"conversation_id", conv.ID,
				"abandoned_thread_id", created.ThreadID)
			fresh, lookupErr := c.store.GetConversation(ctx, conv.ID)
			if lookupErr != nil || fresh.ThreadID == "" {
				return
			}
			threadID = fresh.ThreadID
			conv.ThreadID = threadID
		} else {
			c.logger.Error("failed to record relay thread id",
				"conversation_id", conv.ID,
				"error", err)
			return
		}
	}

	if _, err := c.relay.SendMessage(ctx, threadID, msg.Content, c.displayName(conv, msg.Sender)); err != nil {
		c.logger.Warn("relay send failed",
			"conversation_id", conv.ID,
			"thread_id", threadID,
			"message_id", msg.ID,
			"error", err)
	}
}

// autoReply generates and delivers the automated response to a visitor
// message. Any failure along the way is logged and the reply is skipped; the
// visitor's own message already succeeded.
func (c *Coordinator) autoReply(ctx context.Context, conv *store.Conversation, visitorMsg *store.Message) {
	history, err := c.store.ListMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		c.logger.Warn("skipping automated reply, history unavailable",
			"conversation_id", conv.ID,
			"error", err)
		return
	}

	prompt := c.systemPrompt(ctx, conv)
	if c.retriever != nil {
		if grounding, ok := c.retriever.Context(ctx, conv.ProjectID, visitorMsg.Content); ok {
			prompt += "\n\nRelevant website content:\n\n" + grounding
		}
	}

	reply, err := c.generator.Generate(ctx, prompt, history)
	if err != nil {
		c.logger.Warn("automated reply generation failed",
			"conversation_id", conv.ID,
			"error", err)
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         store.SenderAgent,
		Content:        reply,
		CreatedAt:      time.Now(),
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		c.logger.Error("failed to record automated reply",
			"conversation_id", conv.ID,
			"error", err)
		return
	}

	c.publish(ctx, msg)
	c.forwardToRelay(ctx, conv, msg)
}

// systemPrompt prefers the project's configured prompt over the global one.
func (c *Coordinator) systemPrompt(ctx context.Context, conv *store.Conversation) string {
	if project, err := c.store.GetProject(ctx, conv.ProjectID); err == nil && project.SystemPrompt != "" {
		return project.SystemPrompt
	}
	return c.cfg.SystemPrompt
}

// displayName picks the relay-side author label for a message.
func (c *Coordinator) displayName(conv *store.Conversation, sender string) string {
	if sender == store.SenderVisitor {
		if conv.VisitorName != "" {
			return conv.VisitorName
		}
		return "Visitor"
	}
	if c.cfg.RelayBotName != "" {
		return c.cfg.RelayBotName
	}
	return "chatseam"
}

// threadTitle labels the relay thread after the visitor.
func threadTitle(conv *store.Conversation) string {
	if conv.VisitorName != "" {
		return "Chat with " + conv.VisitorName
	}
	return "Chat with visitor " + conv.VisitorID
}

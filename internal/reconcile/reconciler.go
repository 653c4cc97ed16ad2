// ABOUTME: Merges relay-target thread messages into the canonical transcript
// ABOUTME: Idempotent by external message id, filters the bot's own echoes

package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatseam/chatseam/internal/bus"
	"github.com/chatseam/chatseam/internal/dedupe"
	"github.com/chatseam/chatseam/internal/markup"
	"github.com/chatseam/chatseam/internal/relay"
	"github.com/chatseam/chatseam/internal/store"
)

// Reconciler makes the relay target and the durable transcript eventually
// consistent. Correctness under concurrent invocation comes from the store's
// external-message-id idempotency key, not from mutual exclusion.
type Reconciler struct {
	store  store.Store
	relay  relay.Client
	bus    bus.Bus
	seen   *dedupe.Cache
	logger *slog.Logger
}

// New creates a reconciler. seen may be nil to disable the fast-path cache.
func New(st store.Store, rc relay.Client, b bus.Bus, seen *dedupe.Cache, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  st,
		relay:  rc,
		bus:    b,
		seen:   seen,
		logger: logger.With("component", "reconcile"),
	}
}

// Sync pulls new relay-thread messages into the conversation's transcript.
// It returns the number of messages inserted. Callers treat a Sync error as
// best-effort: log it and serve what the store already has.
func (r *Reconciler) Sync(ctx context.Context, conversationID string) (int, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if conv.ThreadID == "" {
		// Nothing has been relayed yet, so there is nothing to pull back.
		return 0, nil
	}

	lastExternal, err := r.store.LatestExternalMessageID(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	messages, err := r.relay.ListMessages(ctx, conv.ThreadID, lastExternal)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	// If the identity fetch fails the filter degrades to letting everything
	// through; the idempotency key makes the resulting re-inserts harmless.
	selfID, err := r.relay.SelfIdentity(ctx)
	if err != nil {
		r.logger.Warn("self identity unavailable, echo filter disabled for this sync",
			"conversation_id", conversationID,
			"error", err)
		selfID = ""
	}

	inserted := 0
	for _, m := range messages {
		if selfID != "" && m.AuthorID == selfID {
			continue
		}
		if r.seen != nil && r.seen.CheckAndMark(m.ID) {
			continue
		}

		created := m.Timestamp
		if created.IsZero() {
			created = time.Now()
		}

		msg := &store.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Sender:         store.SenderAgent,
			Content:        m.Content,
			ExternalID:     m.ID,
			CreatedAt:      created,
		}

		if err := r.store.SaveMessage(ctx, msg); err != nil {
			if errors.Is(err, store.ErrDuplicateMessage) {
				// A concurrent sync won the race; this is the expected
				// resolution, not an error.
				continue
			}
			// The mark must not outlive a failed insert, or the next sync
			// would skip this message for the cache TTL.
			if r.seen != nil {
				r.seen.Forget(m.ID)
			}
			return inserted, err
		}
		inserted++

		r.publish(ctx, msg)
	}

	if inserted > 0 {
		r.logger.Info("reconciled relay messages",
			"conversation_id", conversationID,
			"thread_id", conv.ThreadID,
			"inserted", inserted)
	}
	return inserted, nil
}

// publish emits a bus event for a reconciled message so live subscribers see
// it through the same path as any other inbound message. Publish failure is
// logged and swallowed: the bus is a convenience channel.
func (r *Reconciler) publish(ctx context.Context, msg *store.Message) {
	payload, err := bus.EncodeMessagePayload(bus.MessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		ContentHTML:    markup.Render(msg.Content),
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		r.logger.Error("failed to encode event payload", "error", err, "message_id", msg.ID)
		return
	}

	if err := r.bus.Publish(ctx, msg.ConversationID, payload); err != nil {
		r.logger.Warn("event publish failed for reconciled message",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
			"error", err)
	}
}

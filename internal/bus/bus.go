// ABOUTME: Event bus contract and event payload types for live message fan-out
// ABOUTME: Events are TTL-bounded delivery hints, never the system of record

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is an ephemeral notification that a message was created.
// PublishedAt (unix microseconds) is the ordering and resume key; callers
// advance their cursor to the maximum key seen.
type Event struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
	PublishedAt    int64           `json:"published_at"`
}

// Bus is an append-only, time-ordered, TTL-bounded event log partitioned by
// conversation. A publish failure must never block message persistence, and a
// poll failure is retried by the caller — clients can always fall back to
// re-querying the durable store.
type Bus interface {
	// Publish appends an event with the current time as its ordering key and
	// prunes events older than the TTL window from the partition.
	Publish(ctx context.Context, conversationID string, payload []byte) error

	// Poll returns all events with ordering key strictly greater than after,
	// ascending, together with the highest key seen (or after when empty).
	Poll(ctx context.Context, conversationID string, after int64) ([]Event, int64, error)

	Close() error
}

// bumpKey returns the ordering key for a new event given the partition's
// current highest key. Keys must be strictly monotonic within a partition:
// with two events sharing a key, a subscriber polling between them would
// advance its cursor past the second and miss it forever under the exclusive
// cursor range. The Redis implementation applies the same rule server-side.
func bumpKey(candidate, last int64) int64 {
	if last >= candidate {
		return last + 1
	}
	return candidate
}

// MessagePayload is the serialized message carried inside a new_message event.
// Subscribers that miss events recover by re-fetching messages from the store,
// so this payload is a convenience copy, not authoritative state.
type MessagePayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	ContentHTML    string    `json:"content_html,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EncodeMessagePayload serializes a message payload for publishing.
func EncodeMessagePayload(p MessagePayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling message payload: %w", err)
	}
	return data, nil
}

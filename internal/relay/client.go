// ABOUTME: Relay target contract - the external threaded-chat service operators reply from
// ABOUTME: Defines thread/message types and the Client interface consumed by ingress and reconcile

package relay

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the relay target cannot be reached.
// Relay failures are always non-fatal to the primary operation.
var ErrUnavailable = errors.New("relay target unavailable")

// Thread identifies a newly created relay-target thread together with the id
// the relay assigned to its first message.
type Thread struct {
	ThreadID  string
	MessageID string
}

// Message is a single message in a relay-target thread.
type Message struct {
	ID        string
	Content   string
	AuthorID  string
	Timestamp time.Time
}

// Client is the relay-target API surface chatseam consumes. All calls are
// bounded by the configured HTTP timeout and may fail transiently; callers
// treat failures as fire-and-forget and retry on the next trigger.
type Client interface {
	// CreateThread opens a thread in the given channel carrying the first
	// message. The returned thread id must be durably recorded before any
	// later send to the thread.
	CreateThread(ctx context.Context, channelID, title, firstMessage string) (*Thread, error)

	// SendMessage posts to an existing thread under the given display name.
	SendMessage(ctx context.Context, threadID, content, displayName string) (string, error)

	// ListMessages returns thread messages created after the given message id,
	// oldest first. An empty after returns the whole thread.
	ListMessages(ctx context.Context, threadID, after string) ([]Message, error)

	// SelfIdentity returns the relay author id of chatseam's own bot account,
	// cached indefinitely once fetched. The reconciler uses it to filter
	// echoes of messages the system itself posted.
	SelfIdentity(ctx context.Context) (string, error)
}

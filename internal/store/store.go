// ABOUTME: Store interface and data types for chatseam persistence
// ABOUTME: Defines Project, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists
// for the same (project, visitor) pair
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateMessage is returned when a message with the same external
// message id has already been recorded
var ErrDuplicateMessage = errors.New("message already exists")

// ErrThreadAlreadySet is returned when a conversation's relay thread id has
// already been claimed by a concurrent relay forward
var ErrThreadAlreadySet = errors.New("relay thread already set")

// Sender role constants. "agent" covers both human operators and automated replies.
const (
	SenderVisitor = "visitor"
	SenderAgent   = "agent"
)

// Conversation status constants. New conversations open by default and only
// transition via explicit operator/API action.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Project represents a site whose widget feeds conversations into chatseam
type Project struct {
	ID           string
	Name         string
	SiteURL      string
	SystemPrompt string
	CreatedAt    time.Time
}

// Conversation represents a single visitor's session with a project.
// At most one conversation exists per (project, visitor) pair.
type Conversation struct {
	ID           string
	ProjectID    string
	VisitorID    string
	VisitorName  string
	VisitorEmail string
	ThreadID     string // relay-target thread id, empty until first relayed message
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message represents a single message within a conversation.
// Ordering within a conversation is (CreatedAt, Seq), not arrival order.
type Message struct {
	ID             string
	ConversationID string
	Sender         string // "visitor" or "agent"
	Content        string
	ExternalID     string // relay-target message id, empty unless relayed
	CreatedAt      time.Time
	Seq            int64 // insertion tiebreak for equal timestamps
}

// Store is the durable source of truth for projects, conversations and messages.
// Events and chunks are disposable and live elsewhere.
type Store interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	// GetOrCreateConversation returns the existing conversation for the
	// (project, visitor) pair or creates one. Concurrent callers converge on a
	// single row via the unique constraint.
	GetOrCreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, projectID string, limit int) ([]*Conversation, error)
	// SetConversationThreadID durably records the relay thread id, once.
	// Returns ErrThreadAlreadySet when a concurrent forward won the claim.
	SetConversationThreadID(ctx context.Context, id, threadID string) error
	SetConversationStatus(ctx context.Context, id, status string) error

	// SaveMessage persists a message. Returns ErrDuplicateMessage when the
	// message carries an external id already present in the conversation's
	// transcript — this is the reconciler's idempotency key.
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// LatestExternalMessageID returns the external id of the most recent
	// relayed agent message, or "" when none exists.
	LatestExternalMessageID(ctx context.Context, conversationID string) (string, error)

	Close() error
}

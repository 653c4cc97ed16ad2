// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	projects      map[string]*Project       // keyed by project ID
	conversations map[string]*Conversation  // keyed by conversation ID
	convIndex     map[string]string         // keyed by "projectID:visitorID" -> conversation ID
	messages      map[string][]*Message     // keyed by conversation ID
	externalIDs   map[string]struct{}       // external message ids already recorded
	nextSeq       int64

	// FailSaveMessage forces SaveMessage to return this error when set
	FailSaveMessage error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		projects:      make(map[string]*Project),
		conversations: make(map[string]*Conversation),
		convIndex:     make(map[string]string),
		messages:      make(map[string][]*Message),
		externalIDs:   make(map[string]struct{}),
	}
}

// CreateProject stores a new project.
func (m *MockStore) CreateProject(ctx context.Context, project *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *project
	m.projects[p.ID] = &p
	return nil
}

// GetProject retrieves a project by ID.
func (m *MockStore) GetProject(ctx context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListProjects returns all projects sorted by creation time.
func (m *MockStore) ListProjects(ctx context.Context) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var projects []*Project
	for _, p := range m.projects {
		cp := *p
		projects = append(projects, &cp)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

// GetOrCreateConversation returns the existing conversation for the
// (project, visitor) pair or stores the provided one.
func (m *MockStore) GetOrCreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conv.ProjectID + ":" + conv.VisitorID
	if id, ok := m.convIndex[key]; ok {
		result := *m.conversations[id]
		return &result, nil
	}

	c := *conv
	if c.Status == "" {
		c.Status = StatusOpen
	}
	m.conversations[c.ID] = &c
	m.convIndex[key] = c.ID

	result := c
	return &result, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversations returns a project's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, projectID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var conversations []*Conversation
	for _, c := range m.conversations {
		if c.ProjectID != projectID {
			continue
		}
		cp := *c
		conversations = append(conversations, &cp)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}
	return conversations, nil
}

// SetConversationThreadID records the relay thread id on a conversation.
// Mirrors the SQLite set-once semantics.
func (m *MockStore) SetConversationThreadID(ctx context.Context, id, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.ThreadID != "" {
		return ErrThreadAlreadySet
	}
	c.ThreadID = threadID
	return nil
}

// SetConversationStatus transitions a conversation's status.
func (m *MockStore) SetConversationStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

// SaveMessage stores a message, enforcing external id uniqueness like the
// SQLite partial unique index does.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSaveMessage != nil {
		return m.FailSaveMessage
	}

	if msg.ExternalID != "" {
		if _, seen := m.externalIDs[msg.ExternalID]; seen {
			return ErrDuplicateMessage
		}
		m.externalIDs[msg.ExternalID] = struct{}{}
	}

	m.nextSeq++
	mCopy := *msg
	mCopy.Seq = m.nextSeq
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &mCopy)

	if c, ok := m.conversations[msg.ConversationID]; ok && msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	return nil
}

// ListMessages returns messages in (created_at, seq) order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		result[i] = &cp
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Seq < result[j].Seq
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// LatestExternalMessageID returns the most recent relayed message's external id.
func (m *MockStore) LatestExternalMessageID(ctx context.Context, conversationID string) (string, error) {
	msgs, err := m.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ExternalID != "" {
			return msgs[i].ExternalID, nil
		}
	}
	return "", nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)

// ABOUTME: Tests for relay-thread reconciliation
// ABOUTME: Covers echo filtering, idempotency, cursoring, and failure degradation

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatseam/chatseam/internal/bus"
	"github.com/chatseam/chatseam/internal/dedupe"
	"github.com/chatseam/chatseam/internal/relay"
	"github.com/chatseam/chatseam/internal/store"
)

// fakeRelay is a scriptable relay.Client for tests.
type fakeRelay struct {
	selfID      string
	selfIDErr   error
	messages    []relay.Message
	listErr     error
	ignoreAfter bool
	listCalls   int
	lastAfter   string
	lastThread  string
}

func (f *fakeRelay) CreateThread(ctx context.Context, channelID, title, firstMessage string) (*relay.Thread, error) {
	return &relay.Thread{ThreadID: "thread-1", MessageID: "ext-0"}, nil
}

func (f *fakeRelay) SendMessage(ctx context.Context, threadID, content, displayName string) (string, error) {
	return "ext-sent", nil
}

func (f *fakeRelay) ListMessages(ctx context.Context, threadID, after string) ([]relay.Message, error) {
	f.listCalls++
	f.lastThread = threadID
	f.lastAfter = after
	if f.listErr != nil {
		return nil, f.listErr
	}
	if after == "" || f.ignoreAfter {
		return f.messages, nil
	}
	for i, m := range f.messages {
		if m.ID == after {
			return f.messages[i+1:], nil
		}
	}
	return f.messages, nil
}

func (f *fakeRelay) SelfIdentity(ctx context.Context) (string, error) {
	if f.selfIDErr != nil {
		return "", f.selfIDErr
	}
	return f.selfID, nil
}

func seedThreadedConversation(t *testing.T, s *store.MockStore) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	conv, err := s.GetOrCreateConversation(ctx, &store.Conversation{
		ID:        "conv-1",
		ProjectID: "project-1",
		VisitorID: "visitor-1",
		Status:    store.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetConversationThreadID(ctx, conv.ID, "thread-1"))
	return conv.ID
}

func TestSync_NoThreadIsNoOp(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	ctx := context.Background()
	now := time.Now()
	conv, err := s.GetOrCreateConversation(ctx, &store.Conversation{
		ID: "conv-1", ProjectID: "project-1", VisitorID: "visitor-1",
		Status: store.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	r := New(s, rc, b, nil, nil)
	inserted, err := r.Sync(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 0, rc.listCalls, "no relay call without a thread")
}

func TestSync_InsertsOperatorMessagesFiltersEchoes(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{
		selfID: "bot-1",
		messages: []relay.Message{
			{ID: "ext-1", Content: "Hi, how can I help?", AuthorID: "operator-1", Timestamp: time.Now()},
			{ID: "ext-2", Content: "forwarded visitor text", AuthorID: "bot-1", Timestamp: time.Now()},
			{ID: "ext-3", Content: "We ship worldwide.", AuthorID: "operator-1", Timestamp: time.Now()},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	r := New(s, rc, b, nil, nil)
	inserted, err := r.Sync(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	messages, err := s.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	for _, m := range messages {
		assert.Equal(t, store.SenderAgent, m.Sender)
		assert.NotEmpty(t, m.ExternalID)
		assert.NotEqual(t, "ext-2", m.ExternalID, "own echo must be filtered")
	}

	// Each inserted message produced a live event.
	events, _, err := b.Poll(ctx, convID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSync_SecondPassIsIdempotent(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{
		selfID: "bot-1",
		messages: []relay.Message{
			{ID: "ext-1", Content: "reply one", AuthorID: "operator-1", Timestamp: time.Now()},
			{ID: "ext-2", Content: "reply two", AuthorID: "operator-1", Timestamp: time.Now()},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	r := New(s, rc, b, nil, nil)
	inserted, err := r.Sync(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	// The second pass resumes from the recorded external id.
	inserted, err = r.Sync(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, "ext-2", rc.lastAfter)

	messages, err := s.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestSync_SeenCacheSkipsWithoutStoreHit(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{
		selfID:      "bot-1",
		ignoreAfter: true,
		messages: []relay.Message{
			{ID: "ext-1", Content: "reply", AuthorID: "operator-1", Timestamp: time.Now()},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()
	seen := dedupe.New(time.Minute, 100)
	defer seen.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	r := New(s, rc, b, seen, nil)
	inserted, err := r.Sync(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	// The relay replays the same message; the cache fast path skips it.
	inserted, err = r.Sync(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestSync_FailedInsertStaysRetryable(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{
		selfID: "bot-1",
		messages: []relay.Message{
			{ID: "ext-1", Content: "operator reply", AuthorID: "operator-1", Timestamp: time.Now()},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()
	seen := dedupe.New(time.Minute, 100)
	defer seen.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	r := New(s, rc, b, seen, nil)

	// A transient store failure must not leave the message marked as seen.
	s.FailSaveMessage = errors.New("disk full")
	_, err := r.Sync(ctx, convID)
	require.Error(t, err)

	s.FailSaveMessage = nil
	inserted, err := r.Sync(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestSync_SelfIdentityFailureDegradesOpen(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{
		selfIDErr: errors.New("identity endpoint down"),
		messages: []relay.Message{
			{ID: "ext-1", Content: "operator reply", AuthorID: "operator-1", Timestamp: time.Now()},
			{ID: "ext-2", Content: "bot echo", AuthorID: "bot-1", Timestamp: time.Now()},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	// With the filter down everything is let through; the idempotency key
	// keeps repeats harmless, so this is degradation, not failure.
	r := New(s, rc, b, nil, nil)
	inserted, err := r.Sync(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestSync_ListFailurePropagates(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{listErr: relay.ErrUnavailable}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	r := New(s, rc, b, nil, nil)
	_, err := r.Sync(ctx, convID)
	require.Error(t, err)
	assert.ErrorIs(t, err, relay.ErrUnavailable)
}

func TestSync_DuplicateExternalIDSkipped(t *testing.T) {
	s := store.NewMockStore()
	rc := &fakeRelay{
		selfID: "bot-1",
		messages: []relay.Message{
			{ID: "ext-1", Content: "reply", AuthorID: "operator-1", Timestamp: time.Now()},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	ctx := context.Background()
	convID := seedThreadedConversation(t, s)

	// Another reconciler already recorded ext-1.
	require.NoError(t, s.SaveMessage(ctx, &store.Message{
		ID: "msg-existing", ConversationID: convID, Sender: store.SenderAgent,
		Content: "reply", ExternalID: "ext-1", CreatedAt: time.Now().Add(-time.Minute),
	}))

	r := New(s, rc, b, nil, nil)
	inserted, err := r.Sync(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

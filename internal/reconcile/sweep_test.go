// ABOUTME: Tests for the background reconcile sweep
// ABOUTME: Verifies conversation selection and shutdown behavior

package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatseam/chatseam/internal/bus"
	"github.com/chatseam/chatseam/internal/relay"
	"github.com/chatseam/chatseam/internal/store"
)

func TestSweep_OnlyOpenThreadedConversations(t *testing.T) {
	s := store.NewMockStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateProject(ctx, &store.Project{ID: "project-1", Name: "Acme", CreatedAt: now}))

	// Open with a thread: swept.
	_, err := s.GetOrCreateConversation(ctx, &store.Conversation{
		ID: "conv-threaded", ProjectID: "project-1", VisitorID: "v1",
		Status: store.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetConversationThreadID(ctx, "conv-threaded", "thread-1"))

	// Open without a thread: nothing to pull.
	_, err = s.GetOrCreateConversation(ctx, &store.Conversation{
		ID: "conv-unthreaded", ProjectID: "project-1", VisitorID: "v2",
		Status: store.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	// Closed: out of scope for the sweep.
	_, err = s.GetOrCreateConversation(ctx, &store.Conversation{
		ID: "conv-closed", ProjectID: "project-1", VisitorID: "v3",
		Status: store.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetConversationThreadID(ctx, "conv-closed", "thread-2"))
	require.NoError(t, s.SetConversationStatus(ctx, "conv-closed", store.StatusClosed))

	rc := &fakeRelay{
		selfID: "bot-1",
		messages: []relay.Message{
			{ID: "ext-1", Content: "operator reply", AuthorID: "operator-1", Timestamp: now},
		},
	}
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	sweeper := NewSweeper(s, New(s, rc, b, nil, nil), time.Hour, nil)
	sweeper.sweep(ctx)

	assert.Equal(t, 1, rc.listCalls, "only the open threaded conversation is reconciled")
	assert.Equal(t, "thread-1", rc.lastThread)

	msgs, err := s.ListMessages(ctx, "conv-threaded", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	s := store.NewMockStore()
	b := bus.NewMemoryBus(time.Minute)
	defer b.Close()

	sweeper := NewSweeper(s, New(s, &fakeRelay{}, b, nil, nil), time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

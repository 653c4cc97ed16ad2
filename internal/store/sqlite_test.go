// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation get-or-create, message idempotency, and ordering

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func seedProject(t *testing.T, s *SQLiteStore, id string) *Project {
	t.Helper()
	p := &Project{
		ID:        id,
		Name:      "Test Project",
		SiteURL:   "https://example.com",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return p
}

func seedConversation(t *testing.T, s *SQLiteStore, id, projectID, visitorID string) *Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	conv, err := s.GetOrCreateConversation(context.Background(), &Conversation{
		ID:        id,
		ProjectID: projectID,
		VisitorID: visitorID,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	return conv
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	want := seedProject(t, s, "project-1")

	got, err := s.GetProject(ctx, "project-1")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, want.ID)
	}
	if got.Name != want.Name {
		t.Errorf("Name mismatch: got %q, want %q", got.Name, want.Name)
	}
	if got.SiteURL != want.SiteURL {
		t.Errorf("SiteURL mismatch: got %q, want %q", got.SiteURL, want.SiteURL)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, err := s.GetProject(context.Background(), "no-such-project")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOrCreateConversation_ReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	seedProject(t, s, "project-1")
	first := seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	// Same (project, visitor) pair with a different candidate id must
	// converge on the first row.
	second := seedConversation(t, s, "conv-2", "project-1", "visitor-1")

	if second.ID != first.ID {
		t.Errorf("expected existing conversation %q, got %q", first.ID, second.ID)
	}
}

func TestGetOrCreateConversation_DistinctVisitors(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	seedProject(t, s, "project-1")
	a := seedConversation(t, s, "conv-a", "project-1", "visitor-a")
	b := seedConversation(t, s, "conv-b", "project-1", "visitor-b")

	if a.ID == b.ID {
		t.Error("distinct visitors must get distinct conversations")
	}
}

func TestSetConversationThreadID_SetOnce(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	if err := s.SetConversationThreadID(ctx, "conv-1", "thread-1"); err != nil {
		t.Fatalf("first SetConversationThreadID failed: %v", err)
	}

	err := s.SetConversationThreadID(ctx, "conv-1", "thread-2")
	if !errors.Is(err, ErrThreadAlreadySet) {
		t.Errorf("expected ErrThreadAlreadySet, got %v", err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.ThreadID != "thread-1" {
		t.Errorf("thread id overwritten: got %q, want %q", conv.ThreadID, "thread-1")
	}
}

func TestSetConversationThreadID_NotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	err := s.SetConversationThreadID(context.Background(), "no-such-conv", "thread-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetConversationStatus(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	if err := s.SetConversationStatus(ctx, "conv-1", StatusClosed); err != nil {
		t.Fatalf("SetConversationStatus failed: %v", err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Status != StatusClosed {
		t.Errorf("status mismatch: got %q, want %q", conv.Status, StatusClosed)
	}
}

func TestSaveMessage_DuplicateExternalID(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	msg := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Sender:         SenderAgent,
		Content:        "hello",
		ExternalID:     "ext-1",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	dup := &Message{
		ID:             "msg-2",
		ConversationID: "conv-1",
		Sender:         SenderAgent,
		Content:        "hello again",
		ExternalID:     "ext-1",
		CreatedAt:      time.Now().UTC(),
	}
	err := s.SaveMessage(ctx, dup)
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Errorf("expected ErrDuplicateMessage, got %v", err)
	}

	messages, err := s.ListMessages(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("expected 1 message after duplicate reject, got %d", len(messages))
	}
}

func TestSaveMessage_EmptyExternalIDsDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	for i := 0; i < 3; i++ {
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Sender:         SenderVisitor,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %d failed: %v", i, err)
		}
	}

	messages, err := s.ListMessages(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(messages))
	}
}

func TestListMessages_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	// Identical timestamps: the seq column must keep insertion order stable.
	at := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Sender:         SenderVisitor,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      at,
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %d failed: %v", i, err)
		}
	}

	messages, err := s.ListMessages(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}
	for i, m := range messages {
		want := fmt.Sprintf("msg-%d", i)
		if m.ID != want {
			t.Errorf("position %d: got %q, want %q", i, m.ID, want)
		}
	}

	// Limit keeps the most recent messages, still oldest-first.
	limited, err := s.ListMessages(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("ListMessages with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(limited))
	}
	if limited[0].ID != "msg-3" || limited[1].ID != "msg-4" {
		t.Errorf("limit kept wrong window: got [%q, %q]", limited[0].ID, limited[1].ID)
	}
}

func TestLatestExternalMessageID(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	got, err := s.LatestExternalMessageID(ctx, "conv-1")
	if err != nil {
		t.Fatalf("LatestExternalMessageID failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty id on fresh conversation, got %q", got)
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i, ext := range []string{"ext-1", "", "ext-2"} {
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Sender:         SenderAgent,
			Content:        "reply",
			ExternalID:     ext,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %d failed: %v", i, err)
		}
	}

	got, err = s.LatestExternalMessageID(ctx, "conv-1")
	if err != nil {
		t.Fatalf("LatestExternalMessageID failed: %v", err)
	}
	if got != "ext-2" {
		t.Errorf("got %q, want %q", got, "ext-2")
	}
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	seedProject(t, s, "project-1")
	seedProject(t, s, "project-2")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")
	seedConversation(t, s, "conv-2", "project-1", "visitor-2")
	seedConversation(t, s, "conv-3", "project-2", "visitor-1")

	convs, err := s.ListConversations(context.Background(), "project-1", 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 {
		t.Errorf("expected 2 conversations for project-1, got %d", len(convs))
	}
	for _, c := range convs {
		if c.ProjectID != "project-1" {
			t.Errorf("conversation %q belongs to %q", c.ID, c.ProjectID)
		}
	}
}

func TestSaveMessage_CheckViolationIsNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	seedProject(t, s, "project-1")
	seedConversation(t, s, "conv-1", "project-1", "visitor-1")

	err := s.SaveMessage(ctx, &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Sender:         "system",
		Content:        "bad sender",
		CreatedAt:      time.Now(),
	})
	if err == nil {
		t.Fatal("expected error for invalid sender")
	}
	if errors.Is(err, ErrDuplicateMessage) {
		t.Errorf("CHECK violation reported as ErrDuplicateMessage: %v", err)
	}
}

func TestSaveMessage_UnknownConversationIsNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	err := s.SaveMessage(context.Background(), &Message{
		ID:             "msg-1",
		ConversationID: "no-such-conversation",
		Sender:         SenderVisitor,
		Content:        "orphan",
		CreatedAt:      time.Now(),
	})
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
	if errors.Is(err, ErrDuplicateMessage) {
		t.Errorf("FOREIGN KEY violation reported as ErrDuplicateMessage: %v", err)
	}
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides project/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			site_url      TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			visitor_id    TEXT NOT NULL,
			visitor_name  TEXT NOT NULL DEFAULT '',
			visitor_email TEXT NOT NULL DEFAULT '',
			thread_id     TEXT,
			status        TEXT NOT NULL DEFAULT 'open',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('open', 'closed'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_project_visitor
			ON conversations(project_id, visitor_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
			id                  TEXT NOT NULL UNIQUE,
			conversation_id     TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender              TEXT NOT NULL,
			content             TEXT NOT NULL,
			external_message_id TEXT,
			created_at          TEXT NOT NULL,

			CHECK (sender IN ('visitor', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, seq);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external_id
			ON messages(external_message_id)
			WHERE external_message_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	// Only UNIQUE violations mean "already exists"; FOREIGN KEY and CHECK
	// failures must surface as plain errors.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateProject creates a new project
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO projects (id, name, site_url, system_prompt, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		project.ID,
		project.Name,
		project.SiteURL,
		project.SystemPrompt,
		project.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}

	s.logger.Debug("created project", "id", project.ID, "name", project.Name)
	return nil
}

// GetProject retrieves a project by ID.
// Returns ErrNotFound if the project doesn't exist.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `
		SELECT id, name, site_url, system_prompt, created_at
		FROM projects
		WHERE id = ?
	`

	var p Project
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.SiteURL,
		&p.SystemPrompt,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}

	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &p, nil
}

// ListProjects returns all projects ordered by creation time
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	query := `
		SELECT id, name, site_url, system_prompt, created_at
		FROM projects
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var createdAtStr string

		if err := rows.Scan(&p.ID, &p.Name, &p.SiteURL, &p.SystemPrompt, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}

		p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		projects = append(projects, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}
	return projects, nil
}

// GetOrCreateConversation returns the conversation for (project, visitor),
// creating it when absent. Creation races are resolved by the unique
// constraint on (project_id, visitor_id) followed by a re-lookup.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error) {
	existing, err := s.getConversationByVisitor(ctx, conv.ProjectID, conv.VisitorID)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	query := `
		INSERT INTO conversations (id, project_id, visitor_id, visitor_name, visitor_email, thread_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	status := conv.Status
	if status == "" {
		status = StatusOpen
	}

	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ProjectID,
		conv.VisitorID,
		conv.VisitorName,
		conv.VisitorEmail,
		nullString(conv.ThreadID),
		status,
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// Another request may have created the conversation between our
		// lookup and insert attempt. The unique index is the arbiter.
		if isConstraintViolation(err) {
			existing, lookupErr := s.getConversationByVisitor(ctx, conv.ProjectID, conv.VisitorID)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race",
					"conversation_id", existing.ID)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"project_id", conv.ProjectID,
		"visitor_id", conv.VisitorID)

	created := *conv
	created.Status = status
	return &created, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, project_id, visitor_id, visitor_name, visitor_email, thread_id, status, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// getConversationByVisitor looks up the unique conversation for a (project, visitor) pair
func (s *SQLiteStore) getConversationByVisitor(ctx context.Context, projectID, visitorID string) (*Conversation, error) {
	query := `
		SELECT id, project_id, visitor_id, visitor_name, visitor_email, thread_id, status, created_at, updated_at
		FROM conversations
		WHERE project_id = ? AND visitor_id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, projectID, visitorID))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var threadID sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.VisitorID,
		&c.VisitorName,
		&c.VisitorEmail,
		&threadID,
		&c.Status,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if threadID.Valid {
		c.ThreadID = threadID.String
	}

	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &c, nil
}

// ListConversations retrieves a project's conversations ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, projectID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, project_id, visitor_id, visitor_name, visitor_email, thread_id, status, created_at, updated_at
		FROM conversations
		WHERE project_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var c Conversation
		var threadID sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&c.ID,
			&c.ProjectID,
			&c.VisitorID,
			&c.VisitorName,
			&c.VisitorEmail,
			&threadID,
			&c.Status,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		if threadID.Valid {
			c.ThreadID = threadID.String
		}

		c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		conversations = append(conversations, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}

// SetConversationThreadID durably records the relay-target thread id. The id
// is set at most once: a concurrent claim loses with ErrThreadAlreadySet and
// must re-read the conversation to find the winning thread. Must complete
// before any later send to that thread.
func (s *SQLiteStore) SetConversationThreadID(ctx context.Context, id, threadID string) error {
	query := `
		UPDATE conversations
		SET thread_id = ?, updated_at = ?
		WHERE id = ? AND thread_id IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		threadID,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating conversation thread id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, lookupErr := s.GetConversation(ctx, id); lookupErr != nil {
			return lookupErr
		}
		return ErrThreadAlreadySet
	}

	s.logger.Debug("recorded relay thread", "conversation_id", id, "thread_id", threadID)
	return nil
}

// SetConversationStatus transitions a conversation's status.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id, status string) error {
	query := `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation status", "conversation_id", id, "status", status)
	return nil
}

// SaveMessage persists a message and bumps the conversation's updated_at.
// A duplicate external message id maps to ErrDuplicateMessage so concurrent
// reconciler invocations converge on a single row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender, content, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Content,
		nullString(msg.ExternalID),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	// Best-effort activity bump; message insertion already succeeded.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.ConversationID,
	); err != nil {
		s.logger.Warn("failed to bump conversation activity", "error", err, "conversation_id", msg.ConversationID)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender", msg.Sender)
	return nil
}

// nullString returns nil for empty strings, otherwise the string value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListMessages retrieves messages for a conversation in transcript order
// (created_at ascending, insertion order breaking ties).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT seq, id, conversation_id, sender, content, external_message_id, created_at
			FROM (
				SELECT seq, id, conversation_id, sender, content, external_message_id, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, seq DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, seq ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT seq, id, conversation_id, sender, content, external_message_id, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, seq ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var externalID sql.NullString
		var createdAtStr string

		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &externalID, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if externalID.Valid {
			msg.ExternalID = externalID.String
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// LatestExternalMessageID returns the external id of the most recently
// recorded relayed message for a conversation, or "" when none exists.
func (s *SQLiteStore) LatestExternalMessageID(ctx context.Context, conversationID string) (string, error) {
	query := `
		SELECT external_message_id
		FROM messages
		WHERE conversation_id = ? AND external_message_id IS NOT NULL
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	var externalID string
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&externalID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying latest external message id: %w", err)
	}

	return externalID, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

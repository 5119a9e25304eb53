package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// DefaultConversation is the identity used when none is configured.
const DefaultConversation = "default"

// SQLiteStore persists one conversation, identified by its ID, in a SQLite
// database that may hold many. Save replaces the conversation's summary and
// history in a single transaction.
type SQLiteStore struct {
	db     *sql.DB
	id     string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at dsn and returns a
// store bound to conversation id. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn, id string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultConversation
	}
	db, err := openDB(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, id: id, logger: logger}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Conversation returns the identity this store reads and writes.
func (s *SQLiteStore) Conversation() string {
	return s.id
}

// Load returns the stored conversation, or an empty State when the
// conversation has never been saved.
func (s *SQLiteStore) Load(ctx context.Context) (memory.State, error) {
	st := memory.State{History: []memory.Message{}}

	err := s.db.QueryRowContext(ctx,
		"SELECT summary FROM conversations WHERE id = ?", s.id,
	).Scan(&st.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return memory.State{}, fmt.Errorf("store: load conversation %q: %w", s.id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, role, content FROM messages WHERE conversation_id = ? ORDER BY seq", s.id,
	)
	if err != nil {
		return memory.State{}, fmt.Errorf("store: load messages %q: %w", s.id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			role string
			msg  memory.Message
		)
		if err := rows.Scan(&seq, &role, &msg.Content); err != nil {
			return memory.State{}, fmt.Errorf("store: scan message: %w", err)
		}
		msg.Role = memory.Role(role)
		if !msg.Role.Valid() {
			return memory.State{}, fmt.Errorf("store: conversation %q message %d: %w: unknown role %q",
				s.id, seq, memory.ErrPersistenceCorrupt, role)
		}
		st.History = append(st.History, msg)
	}
	if err := rows.Err(); err != nil {
		return memory.State{}, fmt.Errorf("store: iterate messages %q: %w", s.id, err)
	}
	return st, nil
}

// Save overwrites the stored conversation with st.
func (s *SQLiteStore) Save(ctx context.Context, st memory.State) error {
	for i, m := range st.History {
		if !m.Role.Valid() {
			return fmt.Errorf("store: save conversation %q: %w: message %d has unknown role %q",
				s.id, memory.ErrPersistenceWrite, i, m.Role)
		}
	}

	if err := s.save(ctx, st); err != nil {
		return fmt.Errorf("store: save conversation %q: %w: %w", s.id, memory.ErrPersistenceWrite, err)
	}
	s.logger.Debug("store: conversation saved", "conversation", s.id, "messages", len(st.History))
	return nil
}

func (s *SQLiteStore) save(ctx context.Context, st memory.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, summary, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		s.id, st.Summary, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", s.id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (conversation_id, seq, role, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range st.History {
		if _, err := stmt.ExecContext(ctx, s.id, i, string(m.Role), m.Content); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS conversations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	title       TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	user_id     TEXT NOT NULL,
	question_id INTEGER,
	thread_id   TEXT NOT NULL,
	is_deleted  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, is_deleted);
CREATE INDEX IF NOT EXISTS idx_conversations_thread ON conversations(thread_id);

CREATE TABLE IF NOT EXISTS memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, is_deleted);
`

// Store persists conversation and memory records in SQLite. Deletion is
// always soft: rows are flagged, never removed, so thread history keys stay
// resolvable.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids lock
	// contention errors under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle. Used by tests.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ================ Conversations ================

func (s *Store) Create(ctx context.Context, title, userID string, questionID *int64, threadID string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (title, created_at, updated_at, user_id, question_id, thread_id) VALUES (?, ?, ?, ?, ?, ?)`,
		title, now, now, userID, questionID, threadID,
	)
	if err != nil {
		return 0, errx.WrapDB(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errx.WrapDB(err)
	}
	return id, nil
}

func (s *Store) SoftDelete(ctx context.Context, conversationID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return false, errx.WrapDB(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return n > 0, nil
}

func (s *Store) GetByThreadID(ctx context.Context, threadID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, user_id, question_id, thread_id
		 FROM conversations WHERE thread_id = ? AND is_deleted = 0`,
		threadID,
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return c, nil
}

func (s *Store) ListByUserAndQuestion(ctx context.Context, userID string, questionID *int64) ([]*model.Conversation, error) {
	query := `SELECT id, title, created_at, updated_at, user_id, question_id, thread_id
		 FROM conversations WHERE user_id = ? AND is_deleted = 0`
	args := []any{userID}
	if questionID != nil {
		query += ` AND question_id = ?`
		args = append(args, *questionID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errx.WrapDB(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

func (s *Store) UpdateTitle(ctx context.Context, conversationID int64, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		title, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return false, errx.WrapDB(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return n > 0, nil
}

// Touch bumps a conversation's updated_at so listings order by recency.
func (s *Store) Touch(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ? AND is_deleted = 0`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return errx.WrapDB(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var c model.Conversation
	var questionID sql.NullInt64
	if err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.UserID, &questionID, &c.ThreadID); err != nil {
		return nil, err
	}
	if questionID.Valid {
		c.QuestionID = &questionID.Int64
	}
	return &c, nil
}

// ================ Memories ================

func (s *Store) CreateMemories(ctx context.Context, userID string, memories []*model.Memory) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]int64, 0, len(memories))
	for _, m := range memories {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO memories (user_id, content, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			userID, m.Content, m.Type, now, now,
		)
		if err != nil {
			return nil, errx.WrapDB(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errx.WrapDB(err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errx.WrapDB(err)
	}
	return ids, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, type, created_at, updated_at
		 FROM memories WHERE user_id = ? AND is_deleted = 0 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		var m model.Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Type, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, errx.WrapDB(err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, memoryID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		time.Now().UTC(), memoryID,
	)
	if err != nil {
		return false, errx.WrapDB(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return n > 0, nil
}

func (s *Store) UpdateContent(ctx context.Context, memoryID int64, content string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		content, time.Now().UTC(), memoryID,
	)
	if err != nil {
		return false, errx.WrapDB(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return n > 0, nil
}

func (s *Store) BatchUpdate(ctx context.Context, memories []*model.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapDB(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, m := range memories {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET content = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
			m.Content, now, m.ID,
		); err != nil {
			return errx.WrapDB(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errx.WrapDB(err)
	}
	return nil
}

var (
	_ model.ConversationStore = (*Store)(nil)
	_ model.MemoryStore       = (*Store)(nil)
)

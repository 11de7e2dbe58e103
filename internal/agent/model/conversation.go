package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// HistoryRepository stores the per-thread message log (the external
// checkpoint store for graph runs).
type HistoryRepository interface {
	// AddMessage appends a message to the thread's history.
	AddMessage(ctx context.Context, threadID string, message *schema.Message) error

	// LoadHistory retrieves the full message history for a thread.
	LoadHistory(ctx context.Context, threadID string) (*ThreadHistory, error)

	// ClearHistory removes all history for a thread.
	ClearHistory(ctx context.Context, threadID string) error

	// GetMessageCount returns the number of messages in the thread.
	GetMessageCount(ctx context.Context, threadID string) (int, error)
}

// ThreadHistory represents loaded thread data with metadata.
type ThreadHistory struct {
	ThreadID string
	Messages []*schema.Message
}

// Conversation is one persisted conversation record.
type Conversation struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UserID     string    `json:"user_id"`
	QuestionID *int64    `json:"question_id"`
	ThreadID   string    `json:"thread_id"`
}

// ConversationStore persists conversation records.
type ConversationStore interface {
	Create(ctx context.Context, title, userID string, questionID *int64, threadID string) (int64, error)
	SoftDelete(ctx context.Context, conversationID int64) (bool, error)
	GetByThreadID(ctx context.Context, threadID string) (*Conversation, error)
	ListByUserAndQuestion(ctx context.Context, userID string, questionID *int64) ([]*Conversation, error)
	UpdateTitle(ctx context.Context, conversationID int64, title string) (bool, error)
}

// Memory is one persisted personalized-memory record.
type Memory struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryStore persists personalized-memory records.
type MemoryStore interface {
	CreateMemories(ctx context.Context, userID string, memories []*Memory) ([]int64, error)
	ListByUser(ctx context.Context, userID string) ([]*Memory, error)
	Delete(ctx context.Context, memoryID int64) (bool, error)
	UpdateContent(ctx context.Context, memoryID int64, content string) (bool, error)
	BatchUpdate(ctx context.Context, memories []*Memory) error
}

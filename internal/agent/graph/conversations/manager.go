package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/model"
)

// Manager threads persisted conversation history through graph runs: it
// loads prior turns when a run starts and appends the turns the run produced
// when it ends. The history repository is the external checkpoint store; the
// manager never mutates what is already persisted.
type Manager struct {
	repo model.HistoryRepository
}

func NewManager(repo model.HistoryRepository) *Manager {
	return &Manager{repo: repo}
}

// BeginRun persists the user's query and returns the full message log for
// the thread (prior turns plus the new user message) together with the count
// of persisted entries.
func (m *Manager) BeginRun(ctx context.Context, threadID, query string) ([]*schema.Message, int, error) {
	history, err := m.repo.LoadHistory(ctx, threadID)
	if err != nil {
		return nil, 0, err
	}

	userMsg := schema.UserMessage(query)
	if err := m.repo.AddMessage(ctx, threadID, userMsg); err != nil {
		return nil, 0, err
	}

	messages := make([]*schema.Message, 0, len(history.Messages)+1)
	messages = append(messages, history.Messages...)
	messages = append(messages, userMsg)
	return messages, len(messages), nil
}

// PersistRun appends every message the run added beyond what BeginRun loaded.
func (m *Manager) PersistRun(ctx context.Context, state *model.AppState) error {
	for _, msg := range state.UnpersistedMessages() {
		if msg == nil {
			continue
		}
		if err := m.repo.AddMessage(ctx, state.ThreadID, msg); err != nil {
			return err
		}
	}
	state.PersistedCount = len(state.Messages)
	return nil
}

// AssistantAnswer concatenates the assistant turns a run produced, used to
// seed title generation for brand-new threads.
func AssistantAnswer(messages []*schema.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg == nil || msg.Role != schema.Assistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		sb.WriteString(msg.Content)
	}
	return sb.String()
}

// FormatTranscript renders a message log as a Q/A transcript for
// summarization prompts.
func FormatTranscript(messages []*schema.Message) string {
	var lines []string
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			lines = append(lines, "Q: "+msg.Content)
		case schema.Assistant:
			lines = append(lines, "A: "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}

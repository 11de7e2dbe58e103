package generic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/graph/parsers"
	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

const memoryPromptKey = "generic.personalized_memory"

// Memory record types.
const (
	MemoryTypeLevel      = "level"
	MemoryTypeAbility    = "ability"
	MemoryTypePreference = "preference"
)

// memoryItem is one summarized fact. A non-nil ID refers to an existing
// record the model chose to refresh; a nil ID creates a new record.
type memoryItem struct {
	ID      *int64 `json:"id"`
	Content string `json:"content"`
}

// memoryOutput is the structured summary the memory model produces from a
// conversation transcript.
type memoryOutput struct {
	Levels      []memoryItem `json:"levels"`
	Abilities   []memoryItem `json:"abilities"`
	Preferences []memoryItem `json:"preferences"`
}

// MemorySummarizer distills a finished conversation into durable
// personalized memory records about the user.
type MemorySummarizer struct {
	cm    einomodel.BaseChatModel
	store model.MemoryStore
	pm    *prompts.Manager
}

func NewMemorySummarizer(cm einomodel.BaseChatModel, store model.MemoryStore, pm *prompts.Manager) *MemorySummarizer {
	return &MemorySummarizer{cm: cm, store: store, pm: pm}
}

// Summarize extracts memory records from the transcript and persists them
// for the user. Existing records are shown to the model with their ids so it
// can refresh them instead of duplicating; outputs carrying an id go through
// BatchUpdate, the rest are created. Memory is an enhancement, so an
// undecodable summary is logged and dropped rather than surfaced.
func (s *MemorySummarizer) Summarize(ctx context.Context, userID, transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}
	system, err := s.pm.Get(memoryPromptKey)
	if err != nil {
		return err
	}

	existing, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("memory lookup failed, summarizing without existing records")
		existing = nil
	}

	user := "Extract durable facts about the user from this new conversation:\n" + transcript
	if len(existing) > 0 {
		user = "Known records about this user:\n" + formatExisting(existing) + "\n\n" + user
	}

	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
	out, err := parsers.Ask[memoryOutput](ctx, s.cm, msgs)
	if err != nil {
		if errors.Is(err, errx.ErrDecode) {
			logx.Warn().Err(err).Str("user_id", userID).Msg("memory summary undecodable, skipping")
			return nil
		}
		return err
	}

	var creates, updates []*model.Memory
	creates, updates = splitMemories(creates, updates, out.Levels, MemoryTypeLevel)
	creates, updates = splitMemories(creates, updates, out.Abilities, MemoryTypeAbility)
	creates, updates = splitMemories(creates, updates, out.Preferences, MemoryTypePreference)

	if len(updates) > 0 {
		if err := s.store.BatchUpdate(ctx, updates); err != nil {
			return err
		}
	}
	if len(creates) > 0 {
		if _, err := s.store.CreateMemories(ctx, userID, creates); err != nil {
			return err
		}
	}
	if len(creates)+len(updates) > 0 {
		logx.Debug().Str("user_id", userID).
			Int("created", len(creates)).
			Int("updated", len(updates)).
			Msg("personalized memories saved")
	}
	return nil
}

func formatExisting(memories []*model.Memory) string {
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, fmt.Sprintf(`{"id": %d, "content": %q, "type": %q}`, m.ID, m.Content, m.Type))
	}
	return strings.Join(lines, "\n")
}

func splitMemories(creates, updates []*model.Memory, items []memoryItem, typ string) ([]*model.Memory, []*model.Memory) {
	for _, it := range items {
		content := strings.TrimSpace(it.Content)
		if content == "" {
			continue
		}
		if it.ID != nil {
			updates = append(updates, &model.Memory{ID: *it.ID, Content: content, Type: typ})
			continue
		}
		creates = append(creates, &model.Memory{Content: content, Type: typ})
	}
	return creates, updates
}

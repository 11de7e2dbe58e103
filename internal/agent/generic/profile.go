package generic

import (
	"context"
	"strings"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// ProfileBuilder renders a user's persisted memories into a profile block
// for system prompts.
type ProfileBuilder struct {
	store model.MemoryStore
}

func NewProfileBuilder(store model.MemoryStore) *ProfileBuilder {
	return &ProfileBuilder{store: store}
}

// Build returns a prompt-ready profile of the user, or "" when nothing is
// known. Profile lookup failures degrade to an empty profile.
func (b *ProfileBuilder) Build(ctx context.Context, userID string) string {
	memories, err := b.store.ListByUser(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed, continuing without profile")
		return ""
	}
	return FormatProfile(memories)
}

// FormatProfile groups memory records by type into a readable block.
func FormatProfile(memories []*model.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	groups := map[string][]string{}
	for _, m := range memories {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		groups[m.Type] = append(groups[m.Type], m.Content)
	}

	var sb strings.Builder
	sb.WriteString("What is known about this user:\n")
	writeGroup(&sb, "Skill level", groups[MemoryTypeLevel])
	writeGroup(&sb, "Abilities", groups[MemoryTypeAbility])
	writeGroup(&sb, "Preferences", groups[MemoryTypePreference])
	return strings.TrimRight(sb.String(), "\n")
}

func writeGroup(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + ":\n")
	for _, it := range items {
		sb.WriteString("- " + it + "\n")
	}
}

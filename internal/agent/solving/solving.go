// Package solving implements the solving assistant: a single streaming chat
// model run, personalized with the user's memory profile, that shares the
// session and persistence machinery of the agent graph.
package solving

import (
	"context"
	"errors"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/smart-oj/assistant-server/internal/agent/generic"
	"github.com/smart-oj/assistant-server/internal/agent/graph/conversations"
	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
	"github.com/smart-oj/assistant-server/internal/agent/model"
)

// NodeName identifies the solving assistant in streamed events.
const NodeName = "solving_assistant"

const systemPromptKey = "solving_assistant.system"

// Assistant runs solving conversations.
type Assistant struct {
	cm      einomodel.BaseChatModel
	pm      *prompts.Manager
	history *conversations.Manager
	profile *generic.ProfileBuilder
}

func New(cm einomodel.BaseChatModel, pm *prompts.Manager, history *conversations.Manager, profile *generic.ProfileBuilder) *Assistant {
	return &Assistant{cm: cm, pm: pm, history: history, profile: profile}
}

// Invoke answers one query, streaming content chunks as they arrive. It
// satisfies the same contract as the agent graph runner so session handling
// is shared.
func (a *Assistant) Invoke(ctx context.Context, in model.QueryInput) (*model.AppState, error) {
	messages, persisted, err := a.history.BeginRun(ctx, in.ThreadID, in.Query)
	if err != nil {
		return nil, err
	}
	st := &model.AppState{
		ThreadID:       in.ThreadID,
		UserID:         in.UserID,
		SessionID:      in.SessionID,
		Messages:       messages,
		PersistedCount: persisted,
	}

	system, err := a.pm.Render(ctx, systemPromptKey, map[string]any{
		"user_profile":         a.profile.Build(ctx, in.UserID),
		"question_description": in.QuestionDescription,
		"code":                 in.Code,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]*schema.Message, 0, len(st.Messages)+1)
	msgs = append(msgs, schema.SystemMessage(system))
	msgs = append(msgs, st.Messages...)

	stream, err := a.cm.Stream(ctx, msgs)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	msgID := uuid.NewString()
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		events.Emit(ctx, events.AssistantChunk(chunk.Content, msgID, NodeName))
	}

	answer := schema.AssistantMessage(sb.String(), nil)
	st.Messages = append(st.Messages, answer)
	st.DisplayMessages = append(st.DisplayMessages, answer)
	return st, nil
}

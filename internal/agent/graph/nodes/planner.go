package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/graph/parsers"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

type plannerOutput struct {
	Plan []model.Step `json:"plan"`
}

// NewPlannerNode creates the planning specialist. It proposes an ordered
// sequence of assistant calls as prose for the dispatcher to consider; it
// never mutates the plan itself, since only the dispatcher appends steps.
func NewPlannerNode(deps *Deps, spec Spec) *compose.Lambda {
	return compose.InvokableLambda(plan(deps, spec))
}

func plan(deps *Deps, spec Spec) func(context.Context, *model.AppState) (*model.AppState, error) {
	return func(ctx context.Context, st *model.AppState) (*model.AppState, error) {
		events.Emit(ctx, events.NodeCallLog(spec.Name, spec.Description, events.ActionEntry))
		defer func() {
			events.Emit(ctx, events.NodeCallLog(spec.Name, spec.Description, events.ActionFinish))
		}()

		cm, err := deps.Models.Get(spec.Model)
		if err != nil {
			return nil, err
		}
		system, err := deps.Prompts.RenderMetadata(ctx, spec.Prompt, st.QuestionMetadata)
		if err != nil {
			return nil, err
		}

		msgs := make([]*schema.Message, 0, len(st.Messages)+1)
		msgs = append(msgs, schema.SystemMessage(system))
		msgs = append(msgs, st.Messages...)

		out, err := parsers.Ask[plannerOutput](ctx, cm, msgs)
		if err != nil {
			if errors.Is(err, errx.ErrDecode) {
				logx.Warn().Err(err).Str("node", spec.Name).Msg("planner output undecodable")
				finishWithAnswer(ctx, st, spec.Name, "I could not produce a plan for this request.")
				return st, nil
			}
			return nil, err
		}

		answer := formatPlan(out.Plan)
		enveloped := EnvelopeAnswer(spec.Name, answer)
		events.Emit(ctx, events.AssistantChunk(enveloped, uuid.NewString(), spec.Name))
		st.Messages = append(st.Messages, schema.AssistantMessage(enveloped, nil))
		st.DisplayMessages = append(st.DisplayMessages, schema.AssistantMessage(enveloped, nil))
		return st, nil
	}
}

func formatPlan(steps []model.Step) string {
	if len(steps) == 0 {
		return "No further steps are needed."
	}
	var sb strings.Builder
	sb.WriteString("Proposed plan:\n")
	for i, s := range steps {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, s.Assistant, s.TaskDescription)
	}
	return strings.TrimRight(sb.String(), "\n")
}

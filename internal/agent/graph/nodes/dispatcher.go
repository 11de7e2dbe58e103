package nodes

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/graph/parsers"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

const dispatcherDescription = "Deciding which assistant should act next"

// NewDispatcherNode creates the routing hub. Each visit appends exactly one
// step to the plan; a step with an empty assistant terminates the run. When
// no question metadata was extracted the dispatcher terminates immediately,
// leaving the conversation in plain chat mode.
func NewDispatcherNode(deps *Deps, spec DispatcherSpec) *compose.Lambda {
	return compose.InvokableLambda(dispatch(deps, spec))
}

func dispatch(deps *Deps, spec DispatcherSpec) func(context.Context, *model.AppState) (*model.AppState, error) {
	return func(ctx context.Context, st *model.AppState) (*model.AppState, error) {
		if st.QuestionMetadata == nil {
			logx.Debug().Str("thread_id", st.ThreadID).Msg("no question metadata, terminating dispatch")
			st.Plan = append(st.Plan, model.Step{})
			return st, nil
		}

		events.Emit(ctx, events.NodeCallLog(NodeDispatcher, dispatcherDescription, events.ActionEntry))
		defer func() {
			events.Emit(ctx, events.NodeCallLog(NodeDispatcher, dispatcherDescription, events.ActionFinish))
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

		step, err := parsers.Ask[model.Step](ctx, cm, msgs)
		if err != nil {
			if errors.Is(err, errx.ErrDecode) {
				// Undecodable routing output is treated as a decision to stop
				// rather than failing the whole run.
				logx.Warn().Err(err).Str("thread_id", st.ThreadID).Msg("dispatcher output undecodable, terminating")
				st.Plan = append(st.Plan, model.Step{})
				return st, nil
			}
			return nil, err
		}

		step.Assistant = normalizeNodeName(step.Assistant)
		st.Plan = append(st.Plan, *step)
		logx.Debug().
			Str("thread_id", st.ThreadID).
			Str("assistant", step.Assistant).
			Int("plan_len", len(st.Plan)).
			Msg("dispatch step")
		return st, nil
	}
}

// NextStep creates the branch condition reading the plan's latest step. Only
// names in the routing table are dispatchable; anything else ends the run.
// The condition never mutates state, so evaluating it twice on the same plan
// yields the same target.
func NextStep(routing map[string]bool) func(context.Context, *model.AppState) (string, error) {
	return func(_ context.Context, st *model.AppState) (string, error) {
		step := st.LastStep()
		if step == nil || step.Assistant == "" {
			return compose.END, nil
		}
		if !routing[step.Assistant] {
			logx.Warn().Str("assistant", step.Assistant).Msg("dispatcher chose unknown assistant, terminating")
			return compose.END, nil
		}
		return step.Assistant, nil
	}
}

// BranchTargets lists every end node a dispatcher branch may select.
func BranchTargets(routing map[string]bool) map[string]bool {
	targets := make(map[string]bool, len(routing)+1)
	for name := range routing {
		targets[name] = true
	}
	targets[compose.END] = true
	return targets
}

package nodes

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/compose"

	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/graph/parsers"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// parserPromptKey locates the JSON recovery prompt for structured extraction.
const parserPromptKey = "generic.json_parser"

// NewPreheatNode creates the entry node. It runs a tool loop over the user's
// raw query to fetch question context and decodes the result into question
// metadata. Everything here is best-effort: a run without metadata simply
// degrades to plain chat, so no failure of this node aborts the run except a
// gateway transport fault.
func NewPreheatNode(deps *Deps, spec Spec) *compose.Lambda {
	return compose.InvokableLambda(preheat(deps, spec))
}

func preheat(deps *Deps, spec Spec) func(context.Context, *model.AppState) (*model.AppState, error) {
	return func(ctx context.Context, st *model.AppState) (*model.AppState, error) {
		events.Emit(ctx, events.NodeCallLog(spec.Name, spec.Description, events.ActionEntry))
		defer func() {
			events.Emit(ctx, events.NodeCallLog(spec.Name, spec.Description, events.ActionFinish))
		}()

		tools, err := deps.Gateway.LoadTools(ctx, st.SessionID, spec.EffectiveTools())
		if err != nil {
			return nil, err
		}
		if len(tools) == 0 {
			logx.Debug().Str("thread_id", st.ThreadID).Msg("no preheat tools, continuing without question metadata")
			return st, nil
		}

		cm, err := deps.Models.Get(spec.Model)
		if err != nil {
			return nil, err
		}
		system, err := deps.Prompts.Render(ctx, spec.Prompt, nil)
		if err != nil {
			return nil, err
		}
		ex, err := newExecutor(cm, tools, spec.Name, deps.maxToolRounds())
		if err != nil {
			return nil, err
		}

		answer, _, err := ex.run(ctx, system, lastHumanContent(st.Messages))
		if err != nil {
			return nil, err
		}

		parserModel, err := deps.Models.Get(deps.ParserModel)
		if err != nil {
			return nil, err
		}
		parserPrompt, err := deps.Prompts.Get(parserPromptKey)
		if err != nil {
			return nil, err
		}
		meta, err := parsers.Extract[model.QuestionMetadata](ctx, parserModel, parserPrompt, answer)
		if err != nil {
			if errors.Is(err, errx.ErrDecode) {
				logx.Warn().Err(err).Str("thread_id", st.ThreadID).Msg("question metadata undecodable, continuing without it")
				return st, nil
			}
			return nil, err
		}

		st.QuestionMetadata = meta
		logx.Debug().
			Str("thread_id", st.ThreadID).
			Int("question_id", meta.QuestionID).
			Msg("question metadata preheated")
		return st, nil
	}
}

package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/graph/parsers"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// targetLanguage is the structured output of the language classification
// pre-step. A null language means the conversation never names one.
type targetLanguage struct {
	Language *string `json:"language"`
}

// NewToolLoopNode creates a specialist that works its task through the tool
// loop. The node reads its task from the plan's latest step and contributes
// exactly one enveloped assistant answer to the shared message log.
func NewToolLoopNode(deps *Deps, spec Spec) *compose.Lambda {
	return compose.InvokableLambda(toolLoop(deps, spec))
}

func toolLoop(deps *Deps, spec Spec) func(context.Context, *model.AppState) (*model.AppState, error) {
	return func(ctx context.Context, st *model.AppState) (*model.AppState, error) {
		events.Emit(ctx, events.NodeCallLog(spec.Name, spec.Description, events.ActionEntry))
		defer func() {
			events.Emit(ctx, events.NodeCallLog(spec.Name, spec.Description, events.ActionFinish))
		}()

		step := st.LastStep()
		if step == nil {
			return nil, fmt.Errorf("node %s invoked without a plan step", spec.Name)
		}
		task := step.TaskDescription

		promptKey := spec.Prompt
		if spec.LanguageDetect {
			lang, err := detectLanguage(ctx, deps, spec, st, task)
			if err != nil {
				return nil, err
			}
			if lang == "" {
				finishWithAnswer(ctx, st, spec.Name, LanguageRequiredDiagnostic)
				return st, nil
			}
			promptKey = spec.Prompt + "." + lang
		}

		system, err := deps.Prompts.RenderMetadata(ctx, promptKey, st.QuestionMetadata)
		if err != nil {
			return nil, err
		}

		tools, err := deps.Gateway.LoadTools(ctx, st.SessionID, spec.EffectiveTools())
		if err != nil {
			return nil, err
		}
		if len(tools) == 0 {
			logx.Warn().Str("node", spec.Name).Msg("no tools available, skipping model run")
			finishWithAnswer(ctx, st, spec.Name, ToolsUnavailableDiagnostic)
			return st, nil
		}

		cm, err := deps.Models.Get(spec.Model)
		if err != nil {
			return nil, err
		}
		ex, err := newExecutor(cm, tools, spec.Name, deps.maxToolRounds())
		if err != nil {
			return nil, err
		}
		answer, transcript, err := ex.run(ctx, system, task)
		if err != nil {
			return nil, err
		}

		st.Messages = append(st.Messages, schema.AssistantMessage(EnvelopeAnswer(spec.Name, answer), nil))
		st.DisplayMessages = append(st.DisplayMessages, transcriptAfterSystem(transcript)...)
		return st, nil
	}
}

// detectLanguage resolves the target programming language for a
// language-scoped node. It returns "" when no permitted language can be
// determined from the conversation.
func detectLanguage(ctx context.Context, deps *Deps, spec Spec, st *model.AppState, task string) (string, error) {
	cm, err := deps.Models.Get(spec.Model)
	if err != nil {
		return "", err
	}
	system, err := deps.Prompts.RenderMetadata(ctx, spec.DetectPrompt, st.QuestionMetadata)
	if err != nil {
		return "", err
	}

	msgs := make([]*schema.Message, 0, len(st.Messages)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	msgs = append(msgs, st.Messages...)
	msgs = append(msgs, schema.UserMessage("Task: "+task))

	out, err := parsers.Ask[targetLanguage](ctx, cm, msgs)
	if err != nil {
		if errors.Is(err, errx.ErrDecode) {
			logx.Warn().Err(err).Str("node", spec.Name).Msg("language detection undecodable")
			return "", nil
		}
		return "", err
	}
	if out.Language == nil {
		return "", nil
	}
	for _, l := range spec.Languages {
		if l == *out.Language {
			return l, nil
		}
	}
	logx.Warn().Str("node", spec.Name).Str("language", *out.Language).Msg("detected language not permitted")
	return "", nil
}

// finishWithAnswer records a node's answer without running the model.
func finishWithAnswer(ctx context.Context, st *model.AppState, node, answer string) {
	enveloped := EnvelopeAnswer(node, answer)
	events.Emit(ctx, events.AssistantChunk(enveloped, uuid.NewString(), node))
	st.Messages = append(st.Messages, schema.AssistantMessage(enveloped, nil))
	st.DisplayMessages = append(st.DisplayMessages, schema.AssistantMessage(enveloped, nil))
}

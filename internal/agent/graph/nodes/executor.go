package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/smart-oj/assistant-server/internal/agent/gateway"
	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

const wrapUpNotice = "SYSTEM NOTICE: You have reached the maximum tool call limit (%d). " +
	"Synthesize a final answer from the information you have already gathered, " +
	"and acknowledge any gaps you could not close."

// executor drives one node's think/act/observe loop against its permitted
// tools. It is rebuilt per node run; nothing is shared across runs.
type executor struct {
	cm        einomodel.ToolCallingChatModel
	tools     map[string]tool.InvokableTool
	node      string
	maxRounds int

	callIDSeq int
}

func newExecutor(cm einomodel.ToolCallingChatModel, tools []tool.InvokableTool, node string, maxRounds int) (*executor, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	byName := make(map[string]tool.InvokableTool, len(tools))
	for _, t := range tools {
		info, err := t.Info(context.Background())
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
		byName[info.Name] = t
	}
	bound, err := cm.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &executor{cm: bound, tools: byName, node: node, maxRounds: maxRounds}, nil
}

// run executes the loop and returns the final answer plus the full message
// log it produced, system prompt included.
func (e *executor) run(ctx context.Context, system, task string) (string, []*schema.Message, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(task),
	}

	for round := 0; round < e.maxRounds; round++ {
		resp, err := e.cm.Generate(ctx, msgs)
		if err != nil {
			return "", nil, err
		}
		e.normalizeCallIDs(resp)
		e.emitContent(ctx, resp)
		msgs = append(msgs, resp)

		if len(resp.ToolCalls) == 0 {
			return resp.Content, msgs, nil
		}

		results, err := e.executeCalls(ctx, resp.ToolCalls)
		if err != nil {
			return "", nil, err
		}
		msgs = append(msgs, results...)
	}

	// Round budget exhausted: force a wrap-up answer without offering tools.
	msgs = append(msgs, schema.SystemMessage(fmt.Sprintf(wrapUpNotice, e.maxRounds)))
	final, err := e.cm.Generate(ctx, msgs)
	if err != nil {
		return "", nil, err
	}
	final.ToolCalls = nil
	e.emitContent(ctx, final)
	msgs = append(msgs, final)
	return final.Content, msgs, nil
}

// normalizeCallIDs fills in tool call IDs some providers omit, so results can
// be correlated back to their calls.
func (e *executor) normalizeCallIDs(msg *schema.Message) {
	for i := range msg.ToolCalls {
		if strings.TrimSpace(msg.ToolCalls[i].ID) == "" {
			e.callIDSeq++
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d", e.callIDSeq)
		}
	}
}

func (e *executor) emitContent(ctx context.Context, msg *schema.Message) {
	if strings.TrimSpace(msg.Content) == "" {
		return
	}
	events.Emit(ctx, events.AssistantChunk(msg.Content, uuid.NewString(), e.node))
}

// executeCalls runs every requested call concurrently and returns one tool
// message per call, in call order. A tool-level failure becomes that call's
// result text so the model can react; only a gateway transport fault aborts.
func (e *executor) executeCalls(ctx context.Context, calls []schema.ToolCall) ([]*schema.Message, error) {
	for _, call := range calls {
		events.Emit(ctx, events.ToolCall(call.Function.Name, call.Function.Arguments))
	}

	contents := make([]string, len(calls))
	fatals := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call schema.ToolCall) {
			defer wg.Done()
			contents[i], fatals[i] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	out := make([]*schema.Message, 0, len(calls))
	for i, call := range calls {
		if fatals[i] != nil {
			return nil, fatals[i]
		}
		events.Emit(ctx, events.ToolCallResult(call.Function.Name, contents[i]))
		out = append(out, &schema.Message{
			Role:       schema.Tool,
			Content:    contents[i],
			ToolCallID: call.ID,
			Name:       call.Function.Name,
		})
	}
	return out, nil
}

// executeOne returns the call's result text. The error return is fatal only:
// it is set when the gateway itself is unreachable.
func (e *executor) executeOne(ctx context.Context, call schema.ToolCall) (string, error) {
	name := call.Function.Name
	t, ok := e.tools[name]
	if !ok {
		return fmt.Sprintf("Tool %q is not available to this assistant.", name), nil
	}

	content, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return "", err
		}
		logx.Warn().Err(err).Str("tool", name).Str("node", e.node).Msg("tool call failed")
		return fmt.Sprintf("Tool %q failed: %v", name, err), nil
	}
	return content, nil
}

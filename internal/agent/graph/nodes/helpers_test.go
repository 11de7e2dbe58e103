package nodes

import (
	"context"
	"fmt"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// scriptedModel replays canned responses and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []*schema.Message
	calls    int
	requests [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, msgs)
	if m.calls >= len(m.replies) {
		return nil, fmt.Errorf("no reply scripted for call %d", m.calls)
	}
	reply := m.replies[m.calls]
	m.calls++
	return reply, nil
}

func (m *scriptedModel) Stream(_ context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *scriptedModel) WithTools(_ []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func textReply(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

func toolCallReply(calls ...schema.ToolCall) *schema.Message {
	return schema.AssistantMessage("", calls)
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

// fakeTool answers with a fixed function of its input, or fails.
type fakeTool struct {
	name string
	fn   func(args string) (string, error)
}

func (t *fakeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "test tool"}, nil
}

func (t *fakeTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	return t.fn(args)
}

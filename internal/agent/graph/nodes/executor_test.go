package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/gateway"
)

func echoTool(name string) *fakeTool {
	return &fakeTool{name: name, fn: func(args string) (string, error) {
		return name + " got " + args, nil
	}}
}

func TestExecutorDirectAnswer(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{textReply("done")}}
	ex, err := newExecutor(m, []tool.InvokableTool{echoTool("a")}, "test", 5)
	if err != nil {
		t.Fatal(err)
	}
	answer, msgs, err := ex.run(context.Background(), "sys", "task")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "done" {
		t.Fatalf("answer %q", answer)
	}
	// system, user, assistant
	if len(msgs) != 3 {
		t.Fatalf("transcript length %d", len(msgs))
	}
}

func TestExecutorCorrelatesConcurrentResults(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		toolCallReply(
			call("c1", "a", `{"n":1}`),
			call("c2", "b", `{"n":2}`),
			call("c3", "a", `{"n":3}`),
		),
		textReply("synthesized"),
	}}
	ex, err := newExecutor(m, []tool.InvokableTool{echoTool("a"), echoTool("b")}, "test", 5)
	if err != nil {
		t.Fatal(err)
	}
	answer, msgs, err := ex.run(context.Background(), "sys", "task")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "synthesized" {
		t.Fatalf("answer %q", answer)
	}

	var toolMsgs []*schema.Message
	for _, msg := range msgs {
		if msg.Role == schema.Tool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 3 {
		t.Fatalf("expected 3 tool results, got %d", len(toolMsgs))
	}
	// Results must arrive in call order with matching correlation IDs.
	wantIDs := []string{"c1", "c2", "c3"}
	wantBodies := []string{`a got {"n":1}`, `b got {"n":2}`, `a got {"n":3}`}
	for i, msg := range toolMsgs {
		if msg.ToolCallID != wantIDs[i] {
			t.Errorf("result %d has id %q, want %q", i, msg.ToolCallID, wantIDs[i])
		}
		if msg.Content != wantBodies[i] {
			t.Errorf("result %d content %q, want %q", i, msg.Content, wantBodies[i])
		}
	}
}

func TestExecutorToolFailureFeedsBack(t *testing.T) {
	failing := &fakeTool{name: "a", fn: func(string) (string, error) {
		return "", fmt.Errorf("boom")
	}}
	m := &scriptedModel{replies: []*schema.Message{
		toolCallReply(call("c1", "a", `{}`), call("c2", "b", `{}`)),
		textReply("handled the failure"),
	}}
	ex, err := newExecutor(m, []tool.InvokableTool{failing, echoTool("b")}, "test", 5)
	if err != nil {
		t.Fatal(err)
	}
	answer, msgs, err := ex.run(context.Background(), "sys", "task")
	if err != nil {
		t.Fatalf("a tool-level failure must not abort the loop: %v", err)
	}
	if answer != "handled the failure" {
		t.Fatalf("answer %q", answer)
	}
	var aResult *schema.Message
	for _, msg := range msgs {
		if msg.Role == schema.Tool && msg.ToolCallID == "c1" {
			aResult = msg
		}
	}
	if aResult == nil || !strings.Contains(aResult.Content, "boom") {
		t.Fatalf("failure not fed back as result: %+v", aResult)
	}
}

func TestExecutorGatewayFaultAborts(t *testing.T) {
	down := &fakeTool{name: "a", fn: func(string) (string, error) {
		return "", fmt.Errorf("%w: dial refused", gateway.ErrUnavailable)
	}}
	m := &scriptedModel{replies: []*schema.Message{
		toolCallReply(call("c1", "a", `{}`)),
	}}
	ex, err := newExecutor(m, []tool.InvokableTool{down}, "test", 5)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = ex.run(context.Background(), "sys", "task")
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected gateway fault to abort, got %v", err)
	}
}

func TestExecutorNormalizesMissingCallIDs(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		toolCallReply(call("", "a", `{}`), call("", "a", `{}`)),
		textReply("ok"),
	}}
	ex, err := newExecutor(m, []tool.InvokableTool{echoTool("a")}, "test", 5)
	if err != nil {
		t.Fatal(err)
	}
	_, msgs, err := ex.run(context.Background(), "sys", "task")
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, msg := range msgs {
		if msg.Role == schema.Tool {
			if msg.ToolCallID == "" {
				t.Fatal("tool result without correlation id")
			}
			if ids[msg.ToolCallID] {
				t.Fatalf("duplicate correlation id %q", msg.ToolCallID)
			}
			ids[msg.ToolCallID] = true
		}
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct ids, got %d", len(ids))
	}
}

func TestExecutorRoundLimitForcesWrapUp(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		toolCallReply(call("c1", "a", `{}`)),
		toolCallReply(call("c2", "a", `{}`)),
		textReply("best effort answer"),
	}}
	ex, err := newExecutor(m, []tool.InvokableTool{echoTool("a")}, "test", 2)
	if err != nil {
		t.Fatal(err)
	}
	answer, msgs, err := ex.run(context.Background(), "sys", "task")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "best effort answer" {
		t.Fatalf("answer %q", answer)
	}
	found := false
	for _, msg := range msgs {
		if msg.Role == schema.System && strings.Contains(msg.Content, "SYSTEM NOTICE") {
			found = true
		}
	}
	if !found {
		t.Fatal("wrap-up notice missing from transcript")
	}
}

func TestExecutorUnknownToolGetsFallbackResult(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		toolCallReply(call("c1", "ghost", `{}`)),
		textReply("ok"),
	}}
	ex, err := newExecutor(m, []tool.InvokableTool{echoTool("a")}, "test", 5)
	if err != nil {
		t.Fatal(err)
	}
	_, msgs, err := ex.run(context.Background(), "sys", "task")
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range msgs {
		if msg.Role == schema.Tool && msg.ToolCallID == "c1" {
			if !strings.Contains(msg.Content, "not available") {
				t.Fatalf("unexpected fallback: %q", msg.Content)
			}
			return
		}
	}
	t.Fatal("no result for unknown tool call")
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeClient struct {
	tools      []mcp.Tool
	callResult *mcp.CallToolResult
	callErr    error
	lastCall   *mcp.CallToolRequest
	closed     bool
}

func (c *fakeClient) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: c.tools}, nil
}

func (c *fakeClient) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c.lastCall = &req
	return c.callResult, c.callErr
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func mcpTool(name string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: "a " + name + " tool",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
}

func fixedDialer(c *fakeClient, err error) DialFunc {
	return func(_ context.Context, _ string) (Client, error) {
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func TestLoadToolsFiltersByPermittedSet(t *testing.T) {
	fc := &fakeClient{tools: []mcp.Tool{
		mcpTool("get_test_cases"),
		mcpTool("update_test_cases"),
		mcpTool("drop_database"),
	}}
	g := NewWithDialer(fixedDialer(fc, nil), time.Second)

	tools, err := g.LoadTools(context.Background(), "sess", map[string]bool{
		"get_test_cases":    true,
		"update_test_cases": true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	for _, tl := range tools {
		info, err := tl.Info(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if info.Name == "drop_database" {
			t.Fatal("unpermitted tool exposed")
		}
	}
	if !fc.closed {
		t.Error("listing session not closed")
	}
}

func TestLoadToolsEmptyCredentialOrSet(t *testing.T) {
	g := NewWithDialer(func(context.Context, string) (Client, error) {
		t.Fatal("dial must not happen")
		return nil, nil
	}, time.Second)

	if tools, err := g.LoadTools(context.Background(), "", map[string]bool{"x": true}); err != nil || tools != nil {
		t.Fatalf("empty session: tools=%v err=%v", tools, err)
	}
	if tools, err := g.LoadTools(context.Background(), "sess", nil); err != nil || tools != nil {
		t.Fatalf("empty set: tools=%v err=%v", tools, err)
	}
}

func TestLoadToolsCredentialRejection(t *testing.T) {
	g := NewWithDialer(fixedDialer(nil, errCredentialRejected), time.Second)
	tools, err := g.LoadTools(context.Background(), "bad", map[string]bool{"x": true})
	if err != nil {
		t.Fatalf("credential rejection must not be an error: %v", err)
	}
	if tools != nil {
		t.Fatalf("expected no tools, got %d", len(tools))
	}
}

func TestLoadToolsTransportFault(t *testing.T) {
	g := NewWithDialer(fixedDialer(nil, fmt.Errorf("%w: dial tcp refused", ErrUnavailable)), time.Second)
	_, err := g.LoadTools(context.Background(), "sess", map[string]bool{"x": true})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestRemoteToolRun(t *testing.T) {
	fc := &fakeClient{
		tools: []mcp.Tool{mcpTool("get_test_cases")},
		callResult: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent("case 1"), mcp.NewTextContent(" case 2")},
		},
	}
	g := NewWithDialer(fixedDialer(fc, nil), time.Second)
	tools, err := g.LoadTools(context.Background(), "sess", map[string]bool{"get_test_cases": true})
	if err != nil || len(tools) != 1 {
		t.Fatalf("load: %v (%d tools)", err, len(tools))
	}

	out, err := tools[0].InvokableRun(context.Background(), `{"question_id": 42}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "case 1 case 2" {
		t.Fatalf("output %q", out)
	}
	if fc.lastCall == nil || fc.lastCall.Params.Name != "get_test_cases" {
		t.Fatalf("call request: %+v", fc.lastCall)
	}
}

func TestRemoteToolErrorResult(t *testing.T) {
	fc := &fakeClient{
		tools: []mcp.Tool{mcpTool("run_sample_solution")},
		callResult: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent("compile error")},
		},
	}
	g := NewWithDialer(fixedDialer(fc, nil), time.Second)
	tools, _ := g.LoadTools(context.Background(), "sess", map[string]bool{"run_sample_solution": true})

	_, err := tools[0].InvokableRun(context.Background(), `{}`)
	if err == nil || !strings.Contains(err.Error(), "compile error") {
		t.Fatalf("expected tool failure with detail, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("a tool-level failure must not look like a transport fault")
	}
}

func TestRemoteToolInvalidArguments(t *testing.T) {
	fc := &fakeClient{tools: []mcp.Tool{mcpTool("get_test_cases")}}
	g := NewWithDialer(fixedDialer(fc, nil), time.Second)
	tools, _ := g.LoadTools(context.Background(), "sess", map[string]bool{"get_test_cases": true})

	if _, err := tools[0].InvokableRun(context.Background(), "{not json"); err == nil {
		t.Fatal("expected argument parse error")
	}
	if fc.lastCall != nil {
		t.Fatal("malformed arguments must not reach the server")
	}
}

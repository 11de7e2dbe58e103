// Package gateway exposes the remote tool catalog to graph nodes. Tools live
// on an MCP server reached over streamable HTTP; every request carries the
// caller's session credential, so the visible tool set is session-scoped.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// SessionHeader carries the backend session credential to the tool server.
const SessionHeader = "backend-session-id"

// ErrUnavailable marks a transport failure reaching the tool gateway. It
// aborts the running node, unlike a tool-level failure which is fed back to
// the model as the tool's result.
var ErrUnavailable = errors.New("tool gateway unavailable")

// Client is the slice of the MCP client the gateway needs. Satisfied by
// *client.Client; tests substitute fakes.
type Client interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// DialFunc opens an initialized MCP session authenticated as sessionID.
type DialFunc func(ctx context.Context, sessionID string) (Client, error)

// Gateway lists and executes remote tools for graph nodes. Tools are
// stateless: each invocation dials its own short-lived session, so nothing
// is cached across different callers' credentials.
type Gateway struct {
	timeout time.Duration
	dial    DialFunc
}

// New builds a gateway for the configured MCP endpoint.
func New(cfg model.GatewayConfig) *Gateway {
	return &Gateway{
		timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		dial:    streamableHTTPDialer(cfg.URL),
	}
}

// NewWithDialer builds a gateway around a custom dialer. Used by tests.
func NewWithDialer(dial DialFunc, timeout time.Duration) *Gateway {
	return &Gateway{timeout: timeout, dial: dial}
}

func streamableHTTPDialer(url string) DialFunc {
	return func(ctx context.Context, sessionID string) (Client, error) {
		c, err := mcpclient.NewStreamableHttpClient(url,
			transport.WithHTTPHeaders(map[string]string{SessionHeader: sessionID}),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{Name: "smartoj-assistant", Version: "1.0.0"}
		if _, err := c.Initialize(ctx, initReq); err != nil {
			c.Close()
			if credentialRejected(err) {
				return nil, errCredentialRejected
			}
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return c, nil
	}
}

var errCredentialRejected = errors.New("session credential rejected")

// credentialRejected distinguishes an auth refusal from a transport fault.
func credentialRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden")
}

// LoadTools returns the node's permitted subset of remote tools. A missing or
// rejected credential yields an empty list, not an error; the node
// short-circuits with its diagnostic instead of failing the run.
func (g *Gateway) LoadTools(ctx context.Context, sessionID string, effective map[string]bool) ([]tool.InvokableTool, error) {
	if sessionID == "" || len(effective) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	c, err := g.dial(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errCredentialRejected) {
			logx.Warn().Msg("tool gateway rejected session credential")
			return nil, nil
		}
		return nil, err
	}
	defer c.Close()

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: list tools: %w", ErrUnavailable, err)
	}

	tools := make([]tool.InvokableTool, 0, len(effective))
	for _, t := range res.Tools {
		if !effective[t.Name] {
			continue
		}
		info, err := toToolInfo(t)
		if err != nil {
			logx.Warn().Err(err).Str("tool", t.Name).Msg("skipping tool with unusable schema")
			continue
		}
		tools = append(tools, &remoteTool{
			gateway:   g,
			sessionID: sessionID,
			info:      info,
		})
	}
	return tools, nil
}

func toToolInfo(t mcp.Tool) (*schema.ToolInfo, error) {
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	js := &jsonschema.Schema{}
	if err := json.Unmarshal(b, js); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return &schema.ToolInfo{
		Name:        t.Name,
		Desc:        t.Description,
		ParamsOneOf: schema.NewParamsOneOfByJSONSchema(js),
	}, nil
}

// remoteTool adapts one MCP tool to the Eino tool interface. Each run opens
// its own session so a node's concurrent calls are independent.
type remoteTool struct {
	gateway   *Gateway
	sessionID string
	info      *schema.ToolInfo
}

func (r *remoteTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return r.info, nil
}

func (r *remoteTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args map[string]any
	if strings.TrimSpace(argumentsInJSON) != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", fmt.Errorf("tool %s: invalid arguments: %w", r.info.Name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.gateway.timeout)
	defer cancel()

	c, err := r.gateway.dial(ctx, r.sessionID)
	if err != nil {
		if errors.Is(err, errCredentialRejected) {
			return "", fmt.Errorf("tool %s: session credential rejected", r.info.Name)
		}
		return "", err
	}
	defer c.Close()

	req := mcp.CallToolRequest{}
	req.Params.Name = r.info.Name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: call %s: %w", ErrUnavailable, r.info.Name, err)
	}

	content := flattenContent(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s failed: %s", r.info.Name, content)
	}
	return content, nil
}

func flattenContent(contents []mcp.Content) string {
	var sb strings.Builder
	for _, c := range contents {
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

var _ tool.InvokableTool = (*remoteTool)(nil)

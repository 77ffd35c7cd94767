package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
)

// mcpCallTimeout bounds a single MCP tool call.
const mcpCallTimeout = 30 * time.Second

// mcpClient is the subset of the mcp-go client used here.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPPlugin exposes the tools of one MCP server as mcp_<server>_<tool>.
type MCPPlugin struct {
	server string
	client mcpClient
	tools  []domain.ToolDescriptor
	logger *slog.Logger
}

// ConnectMCP connects to every configured server. A server that cannot be
// reached becomes an ErrorPlugin so discovery can skip it.
func ConnectMCP(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) []domain.Plugin {
	plugins := make([]domain.Plugin, 0, len(servers))
	for _, srv := range servers {
		c, err := dialMCP(ctx, srv)
		if err != nil {
			logger.Warn("mcp server unavailable", "server", srv.Name, "error", err)
			plugins = append(plugins, ErrorPlugin{PluginName: "mcp:" + srv.Name, Err: err})
			continue
		}
		p, err := newMCPPlugin(ctx, srv.Name, c, logger)
		if err != nil {
			_ = c.Close()
			logger.Warn("mcp tool listing failed", "server", srv.Name, "error", err)
			plugins = append(plugins, ErrorPlugin{PluginName: "mcp:" + srv.Name, Err: err})
			continue
		}
		logger.Info("mcp server connected", "server", srv.Name, "transport", srv.Transport, "tools", len(p.tools))
		plugins = append(plugins, p)
	}
	return plugins
}

func dialMCP(ctx context.Context, srv config.MCPServer) (mcpClient, error) {
	var c mcpClient
	switch srv.Transport {
	case "stdio":
		sc, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
		c = sc
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		hc := mcpclient.NewClient(t)
		if err := hc.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = hc
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "realmforge", Version: "1.0.0"}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err := ic.Initialize(ctx, initReq); err != nil {
			_ = c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}
	return c, nil
}

func newMCPPlugin(ctx context.Context, server string, c mcpClient, logger *slog.Logger) (*MCPPlugin, error) {
	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	p := &MCPPlugin{server: server, client: c, logger: logger}
	for _, t := range result.Tools {
		p.tools = append(p.tools, p.describe(t))
	}
	return p, nil
}

func (p *MCPPlugin) Name() string { return "mcp:" + p.server }

func (p *MCPPlugin) Descriptors() []domain.ToolDescriptor { return p.tools }

// Close shuts down the server connection.
func (p *MCPPlugin) Close() error { return p.client.Close() }

func (p *MCPPlugin) describe(t mcp.Tool) domain.ToolDescriptor {
	desc := t.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %q from server %q", t.Name, p.server)
	}
	params := make([]string, 0, len(t.InputSchema.Properties))
	for k := range t.InputSchema.Properties {
		params = append(params, k)
	}
	sort.Strings(params)

	remote := t.Name
	return domain.ToolDescriptor{
		Name:        fmt.Sprintf("mcp_%s_%s", sanitizeName(p.server), sanitizeName(remote)),
		Category:    "MCP",
		Description: desc,
		Parameters:  params,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			return p.call(ctx, remote, args)
		},
	}
}

func (p *MCPPlugin) call(ctx context.Context, remote string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = remote
	req.Params.Arguments = args

	p.logger.Debug("mcp tool call", "server", p.server, "tool", remote)

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := p.client.CallTool(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("mcp %s/%s: %w", p.server, remote, err)
	}
	content := extractMCPContent(result)
	if result.IsError {
		return "", errors.New(content)
	}
	return content, nil
}

// extractMCPContent flattens an MCP result into text.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that aren't valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

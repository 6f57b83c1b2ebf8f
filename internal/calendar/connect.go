package calendar

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/logger"
)

// Connect creates, starts and initializes the MCP client described by cfg, and
// checks that the server exposes the configured tool.
func Connect(ctx context.Context, cfg config.CalendarConfig) (*client.Client, error) {
	var (
		mcpC *client.Client
		err  error
	)
	switch cfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(cfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(cfg.URL, opts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpC, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create MCP client: %w", err)
	}

	// stdio clients are started by their constructor
	if cfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			closeQuietly(mcpC)
			return nil, fmt.Errorf("start MCP transport: %w", err)
		}
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "quotebot", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	if _, err := mcpC.Initialize(ctx, initReq); err != nil {
		closeQuietly(mcpC)
		return nil, fmt.Errorf("initialize MCP client: %w", err)
	}

	if err := requireTool(ctx, mcpC, cfg.Tool); err != nil {
		closeQuietly(mcpC)
		return nil, err
	}
	logger.L.Info("calendar MCP server initialized", "type", cfg.Type, "tool", cfg.Tool)
	return mcpC, nil
}

// ToolLister is the part of an MCP client used to discover tools.
type ToolLister interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
}

func requireTool(ctx context.Context, c ToolLister, name string) error {
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list MCP tools: %w", err)
	}
	for _, t := range res.Tools {
		if t.Name == name {
			return nil
		}
	}
	return fmt.Errorf("MCP server does not expose tool %q", name)
}

func closeQuietly(c *client.Client) {
	if err := c.Close(); err != nil {
		logger.L.Warn("MCP client close error", "error", err)
	}
}

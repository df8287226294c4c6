package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/storeguard/internal/security"
)

const mcpServerName = "storeguard"

// mcpHandler exposes read-only operator tools over streamable HTTP MCP.
func (g *Gateway) mcpHandler() http.Handler {
	s := server.NewMCPServer(mcpServerName, "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("security_events",
		mcp.WithDescription("List recent security events recorded by the chat pipeline, newest last."),
		mcp.WithString("type",
			mcp.Description("Only events of this type"),
			mcp.Enum(eventTypeNames()...),
		),
		mcp.WithString("severity",
			mcp.Description("Only events of this severity"),
			mcp.Enum("low", "medium", "high", "critical"),
		),
		mcp.WithString("ip", mcp.Description("Only events from this client IP")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 100)")),
	), g.toolSecurityEvents)

	s.AddTool(mcp.NewTool("usage_stats",
		mcp.WithDescription("Report provider usage for the current quota window, merged with the usage oracle when configured."),
	), g.toolUsageStats)

	return server.NewStreamableHTTPServer(s, server.WithStateLess(true))
}

func eventTypeNames() []string {
	out := make([]string, len(security.EventTypes))
	for i, t := range security.EventTypes {
		out[i] = string(t)
	}
	return out
}

func (g *Gateway) toolSecurityEvents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := security.EventFilter{
		Type:      security.EventType(req.GetString("type", "")),
		Severity:  security.Severity(req.GetString("severity", "")),
		SourceKey: req.GetString("ip", ""),
		Limit:     req.GetInt("limit", 0),
	}
	if f.Type != "" && !f.Type.Valid() {
		return mcp.NewToolResultError("unknown event type " + string(f.Type)), nil
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return mcp.NewToolResultError("unknown severity " + string(f.Severity)), nil
	}
	return jsonResult(g.chat.Events().Query(f))
}

func (g *Gateway) toolUsageStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(g.chat.Quota().EnhancedStats(ctx))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

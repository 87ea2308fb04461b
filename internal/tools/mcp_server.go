package tools

import (
	"context"
	"encoding/json"

	"screentest-backend/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the test case tool over the Model Context Protocol.
func NewMCPServer(t *TestCaseTool, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"screentest",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ToolName,
		mcp.WithDescription(toolDesc),
		mcp.WithArray("pages",
			mcp.Required(),
			mcp.Description("Screens in workflow order; each item has name, ocrText and fileRef"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"ocrText": map[string]any{"type": "string"},
					"fileRef": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			}),
		),
		mcp.WithArray("corrections",
			mcp.Description("User labels for misread UI elements: pageIndex, detectedText, label, elementType"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithBoolean("forceRegenerate",
			mcp.Description("Ignore any cached result and generate again"),
		),
	), t.HandleMCP)

	return s
}

// HandleMCP is the MCP handler for generate_test_cases.
func (t *TestCaseTool) HandleMCP(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}

	req, err := parseToolArgs(string(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := t.svc.Generate(ctx, req)
	if err != nil {
		logger.Warnf("MCP tool %s failed: %v", ToolName, err)
		return mcp.NewToolResultError(toolErrorJSON(err)), nil
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

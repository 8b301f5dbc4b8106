package mcpgateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolError reports a tool call that reached the backend and that the backend
// itself marked as failed.
type ToolError struct {
	Server  string
	Tool    string
	Message string
	// Details holds the structured content the backend sent with the
	// error, if any.
	Details any
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mcpgateway: tool %q on server %q failed", e.Tool, e.Server)
	}
	return fmt.Sprintf("mcpgateway: tool %q on server %q failed: %s", e.Tool, e.Server, e.Message)
}

// SearchResult describes the schemas of one backend tool.
type SearchResult struct {
	InputSchema  any `json:"inputSchema" jsonschema:"JSON schema of the tool arguments"`
	OutputSchema any `json:"outputSchema,omitempty" jsonschema:"JSON schema of the tool result, when the server declares one"`
}

// Search resolves a backend tool and returns its schemas. Policy is enforced
// and no backend is contacted.
func (g *Gateway) Search(ctx context.Context, server, tool string) (SearchResult, error) {
	_, done := g.opts.Observer.StartCall(ctx, OpSearch, server, tool)
	resolved, err := g.registry.Lookup(server, tool)
	done(err)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{InputSchema: resolved.InputSchema, OutputSchema: resolved.OutputSchema}, nil
}

// Execute runs a backend tool through a fresh session and returns its
// payload: structured content when present, else the content blocks, else an
// empty object. Resolution errors are returned before any backend is
// contacted. A result the backend flags as an error is returned as *ToolError.
func (g *Gateway) Execute(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	return g.execute(ctx, server, tool, args, nil)
}

// progressRoute identifies where backend progress for one call is relayed.
type progressRoute struct {
	sink  progressSink
	token any
}

func (g *Gateway) execute(ctx context.Context, server, tool string, args map[string]any, route *progressRoute) (result any, err error) {
	ctx, done := g.opts.Observer.StartCall(ctx, OpExecute, server, tool)
	defer func() { done(err) }()

	resolved, err := g.registry.Lookup(server, tool)
	if err != nil {
		return nil, err
	}
	entry, _ := g.registry.Entry(server)

	if args == nil {
		args = map[string]any{}
	}
	params := &mcp.CallToolParams{Name: resolved.Name, Arguments: args}
	if route != nil {
		release := g.progress.track(server, route.sink, route.token, params)
		defer release()
	}

	callID := uuid.NewString()
	start := time.Now()
	g.opts.Logger.Debug("executing tool", "call_id", callID, "server", server, "tool", tool)
	res, err := g.manager.CallTool(ctx, server, entry.Config, params)
	if err != nil {
		g.logError("execute tool", err, "call_id", callID, "server", server, "tool", tool)
		return nil, err
	}
	if res.IsError {
		toolErr := &ToolError{Server: server, Tool: tool, Message: contentText(res.Content), Details: res.StructuredContent}
		g.opts.Logger.Warn("tool reported an error", "call_id", callID, "server", server, "tool", tool, "error", toolErr.Message)
		return nil, toolErr
	}
	g.opts.Logger.Debug("tool executed", "call_id", callID, "server", server, "tool", tool, "elapsed", time.Since(start))
	return resultPayload(res), nil
}

func resultPayload(res *mcp.CallToolResult) any {
	switch {
	case res == nil:
		return map[string]any{}
	case res.StructuredContent != nil:
		return res.StructuredContent
	case len(res.Content) > 0:
		return res.Content
	default:
		return map[string]any{}
	}
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

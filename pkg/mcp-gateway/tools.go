package mcpgateway

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchInput is the argument of search_tool.
type SearchInput struct {
	ServerName string `json:"serverName" jsonschema:"name of the MCP server that owns the tool"`
	ToolName   string `json:"toolName" jsonschema:"name of the tool to describe"`
}

// ExecuteInput is the argument of execute_tool.
type ExecuteInput struct {
	ServerName string         `json:"serverName" jsonschema:"name of the MCP server that owns the tool"`
	ToolName   string         `json:"toolName" jsonschema:"name of the tool to execute"`
	Args       map[string]any `json:"args,omitempty" jsonschema:"arguments passed to the tool, matching its input schema"`
}

// ExecuteOutput wraps the backend result returned by execute_tool.
type ExecuteOutput struct {
	Result any `json:"result" jsonschema:"result returned by the tool"`
}

// registerTools installs the gateway's fixed tool table.
func (g *Gateway) registerTools() error {
	executeSchema, err := executeInputSchema()
	if err != nil {
		return err
	}
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        OpSearch,
		Description: "Retrieves detailed information about a specific tool available in the MCP configuration",
	}, g.handleSearch)
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        OpExecute,
		Description: "Executes a specific tool available in the MCP configuration",
		InputSchema: executeSchema,
	}, g.handleExecute)
	return nil
}

// executeInputSchema is the inferred ExecuteInput schema with args
// defaulting to an empty object, so omitted arguments reach the backend
// as {} rather than null.
func executeInputSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[ExecuteInput](nil)
	if err != nil {
		return nil, err
	}
	if args := schema.Properties["args"]; args != nil {
		args.Default = json.RawMessage(`{}`)
	}
	return schema, nil
}

func (g *Gateway) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchResult, error) {
	res, err := g.Search(ctx, in.ServerName, in.ToolName)
	if err != nil {
		return nil, SearchResult{}, err
	}
	return nil, res, nil
}

func (g *Gateway) handleExecute(ctx context.Context, req *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, ExecuteOutput, error) {
	var route *progressRoute
	if req != nil && req.Session != nil && req.Params != nil {
		if token := req.Params.GetProgressToken(); token != nil {
			route = &progressRoute{sink: req.Session, token: token}
		}
	}
	result, err := g.execute(ctx, in.ServerName, in.ToolName, in.Args, route)
	if err != nil {
		return nil, ExecuteOutput{}, err
	}
	return nil, ExecuteOutput{Result: result}, nil
}

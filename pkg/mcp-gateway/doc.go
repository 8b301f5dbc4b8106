// Package mcpgateway serves a catalog of backend MCP tools to a single caller
// through two tools: search_tool returns a backend tool's schemas and
// execute_tool runs it through a fresh mcpmgr session.
//
// A Gateway is built from a finished catalog.Registry. Its instructions list
// every visible tool and are rendered once at construction. Progress
// notifications a backend emits during execute_tool are relayed to the
// caller under the caller's own progress token.
package mcpgateway

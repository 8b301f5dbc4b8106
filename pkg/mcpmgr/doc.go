// Package mcpmgr opens Model Context Protocol (MCP) client sessions against
// backend servers, one session per unit of work.
//
// A backend is described by a ServerConfig: StdioServerConfig launches a
// subprocess and speaks MCP over its stdin/stdout, HTTPServerConfig dials a
// Streamable HTTP endpoint. NewTransport picks the matching go-sdk transport.
//
// Manager.WithSession is the core primitive. It connects, hands the live
// *mcp.ClientSession to a callback exactly once and always closes it
// afterwards. Nothing is pooled or reused, so concurrent callers never share
// a connection. ListTools and CallTool are thin wrappers around it.
//
// Optional hooks: ManagerOptions.Observer receives connect/close
// observations (used for metrics), RPCLogger or DefaultLogJSONRPC trace raw
// JSON-RPC traffic, and SetProgressHandler forwards backend progress
// notifications.
package mcpmgr

package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// Timeout bounds a whole session: connect, unit of work and close. Zero
	// falls back to ManagerOptions.DefaultTimeout.
	Timeout time.Duration
	// LogJSONRPC enables JSON-RPC tracing for this backend even when the
	// manager default is off.
	LogJSONRPC bool
}

// StdioServerConfig describes a backend launched as a subprocess speaking MCP
// over stdin/stdout.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes a backend reachable over Streamable HTTP.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint string
	// Headers are added to every outbound request, replacing any value the
	// transport would have set for the same key.
	Headers    http.Header
	HTTPClient *http.Client
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// TransportFactory builds a not-yet-connected transport for one backend.
type TransportFactory func(serverID string, cfg ServerConfig) (mcp.Transport, error)

// ProgressHandler receives progress notifications emitted by a backend while
// one of its sessions is open.
type ProgressHandler func(ctx context.Context, serverID string, params *mcp.ProgressNotificationParams)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientVersion is reported to backends during initialization. Defaults
	// to "1.0.0". The client name is always the backend name.
	ClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout. Zero means no bound.
	DefaultTimeout time.Duration
	// DefaultLogJSONRPC toggles JSON-RPC logging for all backends.
	DefaultLogJSONRPC bool
	// RPCLogger receives JSON-RPC traffic when logging is enabled. When nil,
	// messages are written to Logger at debug level.
	RPCLogger RPCLogger
	// NewTransport overrides transport selection. Defaults to NewTransport.
	NewTransport TransportFactory
	// Observer is notified whenever a session opens or closes.
	Observer SessionObserver
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.NewTransport == nil {
		opts.NewTransport = NewTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewTransport selects the transport for a backend: Streamable HTTP when an
// endpoint is configured, a launched subprocess otherwise. The returned
// transport is not connected.
func NewTransport(serverID string, cfg ServerConfig) (mcp.Transport, error) {
	if isNilConfig(cfg) {
		return nil, fmt.Errorf("mcpmgr: missing configuration for %q", serverID)
	}
	switch c := cfg.(type) {
	case *HTTPServerConfig:
		return buildHTTPTransport(serverID, c)
	case *StdioServerConfig:
		return buildStdioTransport(serverID, c)
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported config for %q", serverID)
	}
}

func buildHTTPTransport(serverID string, cfg *HTTPServerConfig) (mcp.Transport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("mcpmgr: endpoint missing for %q", serverID)
	}
	return &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: decorateHTTPClient(cfg.HTTPClient, cfg.Headers),
		// Failed backends are not retried; a dropped stream fails the call.
		MaxRetries: -1,
	}, nil
}

func buildStdioTransport(serverID string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", serverID)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// mergeEnv overlays extra on base. Later keys win, blank keys are dropped and
// the result is sorted so the child's environment is deterministic.
func mergeEnv(base []string, extra map[string]string) []string {
	merged := make(map[string]string, len(base)+len(extra))
	for _, item := range base {
		key, value, _ := strings.Cut(item, "=")
		merged[key] = value
	}
	for key, value := range extra {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		merged[trimmedKey] = value
	}

	out := make([]string, 0, len(merged))
	for key, value := range merged {
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out
}

func decorateHTTPClient(base *http.Client, headers http.Header) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 {
		return base
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneHeader(headers),
	}
	return &clone
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	if c.logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}

// guardedTransport remembers the connection it produced so it can be torn
// down from outside the session. ClientSession.Close waits for in-flight
// calls, which never finish against a stalled backend.
type guardedTransport struct {
	delegate mcp.Transport

	mu     sync.Mutex
	conn   *guardedConnection
	closed bool
}

func (t *guardedTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	guarded := &guardedConnection{Connection: conn}
	t.mu.Lock()
	t.conn = guarded
	closed := t.closed
	t.mu.Unlock()
	if closed {
		_ = guarded.Close()
	}
	return guarded, nil
}

func (t *guardedTransport) forceClose() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type guardedConnection struct {
	mcp.Connection

	once sync.Once
	err  error
}

func (c *guardedConnection) Close() error {
	c.once.Do(func() { c.err = c.Connection.Close() })
	return c.err
}

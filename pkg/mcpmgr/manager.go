package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"reflect"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SessionPhase names a step of a backend session's lifecycle.
type SessionPhase string

const (
	SessionPhaseConnect SessionPhase = "connect"
	SessionPhaseClose   SessionPhase = "close"
)

// SessionObservation describes one connect or close of a backend session. A
// connect observation with a nil Err is always followed by exactly one close
// observation for the same session.
type SessionObservation struct {
	ServerID  string
	Transport ConfigTransport
	Phase     SessionPhase
	Duration  time.Duration
	Err       error
}

// SessionObserver receives session lifecycle observations.
type SessionObserver interface {
	ObserveSession(SessionObservation)
}

// Manager opens short-lived MCP client sessions against configured backends.
// It holds no connections between calls: every unit of work gets its own
// transport, session and teardown.
type Manager struct {
	options ManagerOptions

	mu       sync.RWMutex
	progress ProgressHandler
}

// NewManager constructs a Manager.
func NewManager(opts *ManagerOptions) *Manager {
	return &Manager{options: opts.withDefaults()}
}

// SetProgressHandler registers the handler that receives backend progress
// notifications. Passing nil removes it. Sessions opened afterwards pick up
// the change.
func (m *Manager) SetProgressHandler(handler ProgressHandler) {
	m.mu.Lock()
	m.progress = handler
	m.mu.Unlock()
}

// WithSession connects to the backend described by cfg, runs fn with the live
// session and closes it again. The session is closed on every path once
// connect succeeded. When fn fails its error is returned and a close error
// is only logged; when fn succeeds a close error is returned.
//
// The backend's timeout (or the manager default) bounds the whole cycle.
// When ctx ends first the underlying connection is closed at once, so a
// backend that ignores cancellation cannot hold the session open.
func (m *Manager) WithSession(ctx context.Context, serverID string, cfg ServerConfig, fn func(context.Context, *mcp.ClientSession) error) (err error) {
	if isNilConfig(cfg) {
		return fmt.Errorf("mcpmgr: missing configuration for %q", serverID)
	}
	timeout := m.timeoutFor(cfg)
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	transport, err := m.options.NewTransport(serverID, cfg)
	if err != nil {
		return err
	}
	if logger := m.resolveLogger(cfg); logger != nil {
		transport = &loggingTransport{serverID: serverID, delegate: transport, logger: logger}
	}

	guard := &guardedTransport{delegate: transport}
	stop := context.AfterFunc(ctx, guard.forceClose)
	defer stop()

	kind := TransportOf(cfg)
	client := mcp.NewClient(&mcp.Implementation{
		Name:    serverID,
		Version: m.options.ClientVersion,
	}, m.clientOptions(serverID))

	started := time.Now()
	session, err := client.Connect(ctx, guard, nil)
	m.observe(SessionObservation{ServerID: serverID, Transport: kind, Phase: SessionPhaseConnect, Duration: time.Since(started), Err: err})
	if err != nil {
		return m.timeoutError(ctx, serverID, timeout, fmt.Errorf("mcpmgr: connect %q: %w", serverID, err))
	}

	defer func() {
		closeStarted := time.Now()
		closeErr := m.shutdownError(serverID, session.Close())
		m.observe(SessionObservation{ServerID: serverID, Transport: kind, Phase: SessionPhaseClose, Duration: time.Since(closeStarted), Err: closeErr})
		if closeErr == nil {
			return
		}
		if err != nil {
			m.options.Logger.Warn("session close failed", "server", serverID, "error", closeErr, "cause", err)
			return
		}
		err = fmt.Errorf("mcpmgr: close %q: %w", serverID, closeErr)
	}()

	return m.timeoutError(ctx, serverID, timeout, fn(ctx, session))
}

// ListTools returns the backend's full tool list, following pagination
// cursors, using a dedicated session.
func (m *Manager) ListTools(ctx context.Context, serverID string, cfg ServerConfig) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	err := m.WithSession(ctx, serverID, cfg, func(ctx context.Context, session *mcp.ClientSession) error {
		for tool, err := range session.Tools(ctx, nil) {
			if err != nil {
				return fmt.Errorf("mcpmgr: list tools on %q: %w", serverID, err)
			}
			tools = append(tools, tool)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// CallTool invokes one tool on the backend using a dedicated session.
func (m *Manager) CallTool(ctx context.Context, serverID string, cfg ServerConfig, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if params == nil || params.Name == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required")
	}
	var res *mcp.CallToolResult
	err := m.WithSession(ctx, serverID, cfg, func(ctx context.Context, session *mcp.ClientSession) error {
		var err error
		res, err = session.CallTool(ctx, params)
		if err != nil {
			return fmt.Errorf("mcpmgr: call %q on %q: %w", params.Name, serverID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// shutdownError drops the exit status a subprocess reports once its stdin
// is closed. The session ended either way; failures to stop the process
// (closing stdin, an unresponsive child) are still returned.
func (m *Manager) shutdownError(serverID string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		m.options.Logger.Warn("backend exited with an error on shutdown", "server", serverID, "error", err)
		return nil
	}
	return err
}

func isNilConfig(cfg ServerConfig) bool {
	if cfg == nil {
		return true
	}
	v := reflect.ValueOf(cfg)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (m *Manager) timeoutFor(cfg ServerConfig) time.Duration {
	if timeout := cfg.base().Timeout; timeout > 0 {
		return timeout
	}
	return m.options.DefaultTimeout
}

func (m *Manager) timeoutError(ctx context.Context, serverID string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("mcpmgr: %q timed out after %s: %w (%w)", serverID, timeout, context.DeadlineExceeded, err)
	}
	return err
}

func (m *Manager) clientOptions(serverID string) *mcp.ClientOptions {
	m.mu.RLock()
	handler := m.progress
	m.mu.RUnlock()
	if handler == nil {
		return nil
	}
	return &mcp.ClientOptions{
		ProgressNotificationHandler: func(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
			if req == nil || req.Params == nil {
				return
			}
			handler(ctx, serverID, req.Params)
		},
	}
}

func (m *Manager) resolveLogger(cfg ServerConfig) RPCLogger {
	if !m.options.DefaultLogJSONRPC && !cfg.base().LogJSONRPC {
		return nil
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	logger := m.options.Logger
	return func(evt RPCLogEvent) {
		logger.Debug("json-rpc", "server", evt.ServerID, "direction", string(evt.Direction), "message", string(evt.Message))
	}
}

func (m *Manager) observe(obs SessionObservation) {
	if m.options.Observer != nil {
		m.options.Observer.ObserveSession(obs)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

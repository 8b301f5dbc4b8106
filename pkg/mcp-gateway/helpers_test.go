package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EliFuzz/igate/pkg/catalog"
	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type readArgs struct {
	Path string `json:"path"`
}

type readResult struct {
	Content string `json:"content"`
}

// newFilesBackend serves read (structured), stat (content only), touch
// (empty), write (never reachable through the gateway), fail (tool error),
// quota (tool error with structured details) and progress (emits one
// notification).
func newFilesBackend() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "files", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "read", Description: "Read a file"}, func(_ context.Context, _ *mcp.CallToolRequest, args readArgs) (*mcp.CallToolResult, readResult, error) {
		return nil, readResult{Content: "contents of " + args.Path}, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "stat", Description: "Describe a file"}, func(context.Context, *mcp.CallToolRequest, readArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "size=42"}}}, nil, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "touch"}, func(context.Context, *mcp.CallToolRequest, readArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{}, nil, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "write", Description: "Write a file"}, func(context.Context, *mcp.CallToolRequest, readArgs) (*mcp.CallToolResult, any, error) {
		return nil, nil, errors.New("write must never be proxied")
	})
	mcp.AddTool(server, &mcp.Tool{Name: "fail"}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return nil, nil, errors.New("disk on fire")
	})
	mcp.AddTool(server, &mcp.Tool{Name: "quota"}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			IsError:           true,
			Content:           []mcp.Content{&mcp.TextContent{Text: "quota exceeded"}},
			StructuredContent: map[string]any{"limit": 10, "used": 12},
		}, nil, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "progress"}, func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		token := req.Params.GetProgressToken()
		if token == nil {
			return nil, nil, errors.New("no progress token")
		}
		err := req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Message:       fmt.Sprint(token),
			Progress:      1,
			Total:         2,
		})
		return nil, nil, err
	})
	return server
}

func newNetBackend() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "net", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "fetch", Description: "Fetch a URL"}, func(_ context.Context, _ *mcp.CallToolRequest, args struct {
		URL string `json:"url"`
	}) (*mcp.CallToolResult, readResult, error) {
		return nil, readResult{Content: "body of " + args.URL}, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "post", Description: "Post to a URL"}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return nil, nil, errors.New("post must never be proxied")
	})
	return server
}

// testEnv is a gateway over in-memory files and net backends with the
// policies files: deny write, net: allow fetch.
type testEnv struct {
	gateway *Gateway
	manager *mcpmgr.Manager
	conns   *connCounter
}

func newTestEnv(t *testing.T, opts *Options) *testEnv {
	t.Helper()

	servers := map[string]*mcp.Server{
		"files": newFilesBackend(),
		"net":   newNetBackend(),
	}
	conns := &connCounter{}
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		DefaultTimeout: 5 * time.Second,
		NewTransport: func(serverID string, _ mcpmgr.ServerConfig) (mcp.Transport, error) {
			server, ok := servers[serverID]
			if !ok {
				return nil, fmt.Errorf("no backend %q", serverID)
			}
			clientTransport, serverTransport := mcp.NewInMemoryTransports()
			if _, err := server.Connect(context.Background(), serverTransport, nil); err != nil {
				return nil, err
			}
			return &countingTransport{delegate: clientTransport, counter: conns}, nil
		},
		Logger: slog.New(slog.DiscardHandler),
	})

	reg := catalog.Build(context.Background(), manager, map[string]catalog.Backend{
		"files": {
			Config: &mcpmgr.StdioServerConfig{Command: "files"},
			Policy: catalog.Policy{Deny: []string{"write"}},
		},
		"net": {
			Config: &mcpmgr.HTTPServerConfig{Endpoint: "http://net.invalid/mcp"},
			Policy: catalog.Policy{Allow: []string{"fetch"}},
		},
	}, slog.New(slog.DiscardHandler))
	if reg.Len() != 2 {
		t.Fatalf("expected both backends discovered, got %v", reg.Names())
	}
	// Discovery opened and closed one session per backend.
	conns.reset()

	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	gateway, err := NewGateway(reg, manager, opts)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return &testEnv{gateway: gateway, manager: manager, conns: conns}
}

// connect attaches an upstream client to the gateway over in-memory
// transports.
func (e *testEnv) connect(t *testing.T, clientOpts *mcp.ClientOptions) *mcp.ClientSession {
	t.Helper()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := e.gateway.Server().Connect(context.Background(), serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "upstream", Version: "1.0.0"}, clientOpts)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Wait()
	})
	return session
}

type connCounter struct {
	opened atomic.Int64
	closed atomic.Int64
}

func (c *connCounter) reset() {
	c.opened.Store(0)
	c.closed.Store(0)
}

func (c *connCounter) assertBalanced(t *testing.T, want int64) {
	t.Helper()
	if opened, closed := c.opened.Load(), c.closed.Load(); opened != want || closed != want {
		t.Fatalf("backend connections opened=%d closed=%d, want %d each", opened, closed, want)
	}
}

type countingTransport struct {
	delegate mcp.Transport
	counter  *connCounter
}

func (t *countingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	t.counter.opened.Add(1)
	return &countingConnection{Connection: conn, counter: t.counter}, nil
}

type countingConnection struct {
	mcp.Connection
	counter *connCounter
}

func (c *countingConnection) Close() error {
	c.counter.closed.Add(1)
	return c.Connection.Close()
}

type observedCall struct {
	op, server, tool string
	err              error
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observedCall
}

func (r *recordingObserver) StartCall(ctx context.Context, op, server, tool string) (context.Context, func(error)) {
	return ctx, func(err error) {
		r.mu.Lock()
		r.calls = append(r.calls, observedCall{op: op, server: server, tool: tool, err: err})
		r.mu.Unlock()
	}
}

func (r *recordingObserver) snapshot() []observedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observedCall(nil), r.calls...)
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected content in result, got %+v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

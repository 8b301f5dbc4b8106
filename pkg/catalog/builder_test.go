package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeLister struct {
	tools map[string][]*mcp.Tool
	errs  map[string]error

	// barrier, when set, makes every call wait until all expected calls are
	// in flight, which only succeeds if discovery runs concurrently.
	barrier *startBarrier
}

func (f *fakeLister) ListTools(ctx context.Context, serverID string, _ mcpmgr.ServerConfig) ([]*mcp.Tool, error) {
	if f.barrier != nil {
		if err := f.barrier.wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := f.errs[serverID]; err != nil {
		return nil, err
	}
	return f.tools[serverID], nil
}

type startBarrier struct {
	mu      sync.Mutex
	pending int
	ready   chan struct{}
}

func newStartBarrier(n int) *startBarrier {
	return &startBarrier{pending: n, ready: make(chan struct{})}
}

func (b *startBarrier) wait(ctx context.Context) error {
	b.mu.Lock()
	b.pending--
	if b.pending == 0 {
		close(b.ready)
	}
	b.mu.Unlock()
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBuildIsolatesFailingBackends(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	lister := &fakeLister{
		tools: map[string][]*mcp.Tool{"net": tools("fetch")},
		errs:  map[string]error{"down": errors.New("connection refused")},
	}
	reg := Build(context.Background(), lister, map[string]Backend{
		"down": {Config: &mcpmgr.StdioServerConfig{Command: "down"}},
		"net":  {Config: &mcpmgr.HTTPServerConfig{Endpoint: "http://net"}},
	}, logger)

	if got := reg.Names(); len(got) != 1 || got[0] != "net" {
		t.Fatalf("registry backends = %v, want [net]", got)
	}
	if _, err := reg.Lookup("down", "anything"); !errors.Is(err, ErrBackendNotFound) {
		t.Fatalf("failed backend should be unknown, got %v", err)
	}
	if !strings.Contains(logs.String(), "server=down") || !strings.Contains(logs.String(), "connection refused") {
		t.Fatalf("discovery failure was not logged: %s", logs.String())
	}
}

func TestBuildRunsDiscoveryConcurrently(t *testing.T) {
	t.Parallel()

	const n = 6
	backends := make(map[string]Backend, n)
	lister := &fakeLister{tools: map[string][]*mcp.Tool{}, barrier: newStartBarrier(n)}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("backend-%d", i)
		backends[name] = Backend{Config: &mcpmgr.StdioServerConfig{Command: name}}
		lister.tools[name] = tools("ping")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg := Build(ctx, lister, backends, slog.New(slog.DiscardHandler))
	if reg.Len() != n {
		t.Fatalf("expected all %d backends discovered concurrently, got %d", n, reg.Len())
	}
}

func TestBuildAppliesPolicies(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{tools: map[string][]*mcp.Tool{
		"files": tools("read", "write"),
		"net":   tools("fetch", "post"),
	}}
	reg := Build(context.Background(), lister, map[string]Backend{
		"files": {Policy: Policy{Deny: []string{"write"}}},
		"net":   {Policy: Policy{Allow: []string{"fetch"}}},
	}, slog.New(slog.DiscardHandler))

	files, _ := reg.Entry("files")
	net, _ := reg.Entry("net")
	if len(files.Tools) != 1 || files.Tools[0].Name != "read" {
		t.Fatalf("files catalog = %v", files.Tools)
	}
	if len(net.Tools) != 1 || net.Tools[0].Name != "fetch" {
		t.Fatalf("net catalog = %v", net.Tools)
	}
}

func TestBuildWithManagerAgainstInMemoryBackend(t *testing.T) {
	t.Parallel()

	server := mcp.NewServer(&mcp.Implementation{Name: "net", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "fetch", Description: "Fetch a URL"}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return nil, nil, nil
	})

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		NewTransport: func(serverID string, cfg mcpmgr.ServerConfig) (mcp.Transport, error) {
			if serverID == "down" {
				return mcpmgr.NewTransport(serverID, cfg)
			}
			clientTransport, serverTransport := mcp.NewInMemoryTransports()
			if _, err := server.Connect(context.Background(), serverTransport, nil); err != nil {
				return nil, err
			}
			return clientTransport, nil
		},
		Logger: slog.New(slog.DiscardHandler),
	})

	reg := Build(context.Background(), manager, map[string]Backend{
		// An empty command fails transport selection before anything is spawned.
		"down": {Config: &mcpmgr.StdioServerConfig{}},
		"net":  {Config: &mcpmgr.HTTPServerConfig{Endpoint: "http://unused"}},
	}, slog.New(slog.DiscardHandler))

	if got := reg.Names(); len(got) != 1 || got[0] != "net" {
		t.Fatalf("registry backends = %v, want [net]", got)
	}
	tool, err := reg.Lookup("net", "fetch")
	if err != nil {
		t.Fatalf("Lookup(net, fetch): %v", err)
	}
	if tool.InputSchema == nil {
		t.Fatalf("expected discovered tool to keep its input schema")
	}
}

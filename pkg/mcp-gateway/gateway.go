package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/EliFuzz/igate/pkg/catalog"
	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
)

// Gateway exposes the tools of every discovered backend through two MCP
// tools, search_tool and execute_tool, served over stdio or Streamable HTTP.
type Gateway struct {
	registry *catalog.Registry
	manager  *mcpmgr.Manager
	opts     Options

	instructions string
	progress     *progressTracker

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway over a finished registry. The registry is read
// only from here on; the instructions published to callers are rendered once.
func NewGateway(reg *catalog.Registry, mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if reg == nil {
		return nil, fmt.Errorf("mcpgateway: registry is required")
	}
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	instructions, err := catalog.Instructions(options.Implementation.Name, reg)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: render instructions: %w", err)
	}
	g := &Gateway{
		registry:     reg,
		manager:      mgr,
		opts:         options,
		instructions: instructions,
		progress:     newProgressTracker(options.Logger),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		Instructions: instructions,
		HasTools:     true,
	})
	if err := g.registerTools(); err != nil {
		return nil, fmt.Errorf("mcpgateway: registering tools: %w", err)
	}

	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	mgr.SetProgressHandler(g.forwardProgress)
	return g, nil
}

// Server returns the underlying MCP server, for callers that bring their own
// transport.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Instructions returns the text published to callers during initialization.
func (g *Gateway) Instructions() string {
	return g.instructions
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux exposes the mux the Streamable endpoint is mounted on so callers
// can add their own routes, such as health checks.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// RunStdio serves a single caller over stdin/stdout until ctx is cancelled or
// the caller disconnects.
func (g *Gateway) RunStdio(ctx context.Context) error {
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	g.mux = http.NewServeMux()
	g.mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		g.mux.Handle(path+"/", g.streamHandler)
	}
	if len(g.opts.CORSOrigins) == 0 {
		return g.mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: g.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Accept", "Authorization", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(g.mux)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}

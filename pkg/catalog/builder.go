package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// ToolLister fetches a backend's complete tool list. *mcpmgr.Manager
// satisfies it.
type ToolLister interface {
	ListTools(ctx context.Context, serverID string, cfg mcpmgr.ServerConfig) ([]*mcp.Tool, error)
}

// Build discovers every backend concurrently and returns the resulting
// registry. A backend whose discovery fails is logged and left out; it
// never prevents the others from completing. Build returns once every
// backend has been attempted.
func Build(ctx context.Context, lister ToolLister, backends map[string]Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		mu      sync.Mutex
		entries = make([]*Entry, 0, len(backends))
		eg      errgroup.Group
	)
	for name, backend := range backends {
		eg.Go(func() error {
			started := time.Now()
			tools, err := lister.ListTools(ctx, name, backend.Config)
			if err != nil {
				logger.Error("backend discovery failed",
					"server", name,
					"transport", string(mcpmgr.TransportOf(backend.Config)),
					"error", err)
				return nil
			}
			entry := newEntry(name, backend, tools)
			logger.Info("backend discovered",
				"server", name,
				"tools", len(entry.Tools),
				"hidden", len(entry.hidden),
				"elapsed", time.Since(started))

			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return newRegistry(entries)
}

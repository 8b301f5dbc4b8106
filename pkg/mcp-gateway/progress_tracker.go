package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type progressSink interface {
	NotifyProgress(context.Context, *mcp.ProgressNotificationParams) error
}

type progressCarrier interface {
	mcp.Params
	GetProgressToken() any
	SetProgressToken(any)
}

// progressTracker maps the token the gateway hands to a backend back to the
// upstream session and token that asked for progress.
type progressTracker struct {
	seq atomic.Uint64

	mu     sync.RWMutex
	routes map[string]progressRegistration

	logger       *slog.Logger
	cleanupGrace time.Duration
}

type progressRegistration struct {
	sink     progressSink
	upstream any
	seq      uint64
}

// Backends may deliver a final notification just after the response.
const progressCleanupGrace = 250 * time.Millisecond

func newProgressTracker(logger *slog.Logger) *progressTracker {
	return &progressTracker{
		routes:       make(map[string]progressRegistration),
		logger:       logger,
		cleanupGrace: progressCleanupGrace,
	}
}

// track assigns a fresh progress token to the backend call described by
// carrier and routes notifications for it to sink under upstreamToken. The
// returned function releases the route.
func (pt *progressTracker) track(serverID string, sink progressSink, upstreamToken any, carrier progressCarrier) func() {
	if carrier == nil || sink == nil {
		return func() {}
	}
	upstream, ok := normalizeProgressToken(upstreamToken)
	if !ok {
		if upstreamToken != nil {
			pt.logWarn("progress token unsupported", serverID, upstreamToken)
		}
		return func() {}
	}
	token := "igate/" + serverID + "/" + uuid.NewString()
	ensureProgressMeta(carrier)
	carrier.SetProgressToken(token)
	return pt.register(serverID, token, upstream, sink)
}

func (pt *progressTracker) register(serverID string, token, upstream any, sink progressSink) func() {
	key, ok := progressMapKey(serverID, token)
	if !ok {
		return func() {}
	}
	seq := pt.seq.Add(1)
	pt.mu.Lock()
	pt.routes[key] = progressRegistration{sink: sink, upstream: upstream, seq: seq}
	pt.mu.Unlock()
	return func() {
		pt.removeLater(key, seq)
	}
}

func (pt *progressTracker) removeLater(key string, seq uint64) {
	if pt.cleanupGrace <= 0 {
		pt.removeIfMatch(key, seq)
		return
	}
	time.AfterFunc(pt.cleanupGrace, func() {
		pt.removeIfMatch(key, seq)
	})
}

func (pt *progressTracker) removeIfMatch(key string, seq uint64) {
	pt.mu.Lock()
	if current, ok := pt.routes[key]; ok && current.seq == seq {
		delete(pt.routes, key)
	}
	pt.mu.Unlock()
}

func (pt *progressTracker) lookup(serverID string, token any) (progressRegistration, bool) {
	normalized, ok := normalizeProgressToken(token)
	if !ok {
		pt.logWarn("progress token unsupported", serverID, token)
		return progressRegistration{}, false
	}
	key, ok := progressMapKey(serverID, normalized)
	if !ok {
		return progressRegistration{}, false
	}
	pt.mu.RLock()
	reg, found := pt.routes[key]
	pt.mu.RUnlock()
	return reg, found
}

func (pt *progressTracker) logWarn(msg, serverID string, token any) {
	if pt.logger == nil {
		return
	}
	pt.logger.Warn(msg, "server", serverID, "token", token)
}

// forwardProgress is installed as the manager's progress handler.
func (g *Gateway) forwardProgress(ctx context.Context, serverID string, params *mcp.ProgressNotificationParams) {
	if params == nil {
		return
	}
	reg, ok := g.progress.lookup(serverID, params.ProgressToken)
	if !ok {
		g.opts.Logger.Debug("dropping unrouted progress", "server", serverID, "token", params.ProgressToken)
		return
	}
	relayed := &mcp.ProgressNotificationParams{
		ProgressToken: reg.upstream,
		Message:       params.Message,
		Progress:      params.Progress,
		Total:         params.Total,
	}
	if err := reg.sink.NotifyProgress(ctx, relayed); err != nil {
		g.logError("forward progress", err, "server", serverID)
	}
}

func progressMapKey(serverID string, token any) (string, bool) {
	switch v := token.(type) {
	case string:
		return serverID + "|s|" + v, true
	case int64:
		return fmt.Sprintf("%s|i|%d", serverID, v), true
	default:
		return "", false
	}
}

func normalizeProgressToken(token any) (any, bool) {
	switch v := token.(type) {
	case nil:
		return nil, false
	case string:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		if math.Trunc(v) == v {
			return int64(v), true
		}
		return fmt.Sprintf("%g", v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		return v.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func ensureProgressMeta(params progressCarrier) {
	if params.GetMeta() == nil {
		params.SetMeta(map[string]any{})
	}
}

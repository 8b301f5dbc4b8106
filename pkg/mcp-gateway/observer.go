package mcpgateway

import "context"

// Operation names reported to a CallObserver.
const (
	OpSearch  = "search_tool"
	OpExecute = "execute_tool"
)

// CallObserver is notified when a gateway operation starts. The returned
// function is called exactly once with the operation's outcome. The returned
// context is used for the rest of the call, so observers may attach spans.
type CallObserver interface {
	StartCall(ctx context.Context, op, server, tool string) (context.Context, func(error))
}

type nopObserver struct{}

func (nopObserver) StartCall(ctx context.Context, _, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

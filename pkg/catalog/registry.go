package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resolution errors returned by Registry.Lookup. Match them with errors.Is.
var (
	ErrBackendNotFound = errors.New("server not found")
	ErrToolNotFound    = errors.New("tool not found")
	ErrToolNotAllowed  = errors.New("tool is not allowed on this server")
	ErrToolDenied      = errors.New("tool is denied on this server")
)

// Backend is the static configuration of one backend.
type Backend struct {
	Config mcpmgr.ServerConfig
	Policy Policy
}

// Entry is the registry record of a backend whose discovery succeeded.
type Entry struct {
	Name   string
	Config mcpmgr.ServerConfig
	Policy Policy
	// Tools is the policy-filtered catalog, sorted by name.
	Tools []*mcp.Tool

	index map[string]*mcp.Tool
	// hidden holds discovered names the policy filtered out, so lookups can
	// report a policy violation instead of an unknown tool.
	hidden map[string]struct{}
}

func newEntry(name string, backend Backend, discovered []*mcp.Tool) *Entry {
	e := &Entry{
		Name:   name,
		Config: backend.Config,
		Policy: backend.Policy,
		index:  make(map[string]*mcp.Tool, len(discovered)),
		hidden: make(map[string]struct{}),
	}
	for _, tool := range discovered {
		if tool == nil {
			continue
		}
		if !e.Policy.Allows(tool.Name) {
			e.hidden[tool.Name] = struct{}{}
			continue
		}
		if _, dup := e.index[tool.Name]; dup {
			continue
		}
		e.index[tool.Name] = tool
		e.Tools = append(e.Tools, tool)
	}
	sort.Slice(e.Tools, func(i, j int) bool { return e.Tools[i].Name < e.Tools[j].Name })
	return e
}

// Registry maps backend names to their discovered catalogs. It is built once
// by Build and never modified afterwards, so it is safe for concurrent reads.
type Registry struct {
	entries map[string]*Entry
	names   []string
}

func newRegistry(entries []*Entry) *Registry {
	r := &Registry{entries: make(map[string]*Entry, len(entries))}
	for _, e := range entries {
		r.entries[e.Name] = e
		r.names = append(r.names, e.Name)
	}
	sort.Strings(r.names)
	return r
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered backends.
func (r *Registry) Len() int { return len(r.names) }

// Entry returns the record for a backend.
func (r *Registry) Entry(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Entries returns every record, sorted by backend name.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entries[name])
	}
	return out
}

// Lookup resolves a tool on a backend. The backend's policy is evaluated on
// every call, independently of the filtering applied at discovery time.
func (r *Registry) Lookup(backend, tool string) (*mcp.Tool, error) {
	entry, ok := r.entries[backend]
	if !ok {
		return nil, fmt.Errorf("catalog: server %q: %w", backend, ErrBackendNotFound)
	}
	found, visible := entry.index[tool]
	_, hidden := entry.hidden[tool]
	if !visible && !hidden {
		return nil, fmt.Errorf("catalog: tool %q on server %q: %w", tool, backend, ErrToolNotFound)
	}
	if err := entry.Policy.check(tool); err != nil {
		return nil, fmt.Errorf("catalog: tool %q on server %q: %w", tool, backend, err)
	}
	if !visible {
		return nil, fmt.Errorf("catalog: tool %q on server %q: %w", tool, backend, ErrToolNotFound)
	}
	return found, nil
}

package host

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/mcp"
)

// ServerHandle is a connected server with the tools it advertised.
type ServerHandle struct {
	ID      string
	Session mcp.Session
	Tools   []mcp.Tool
}

// Registry tracks connected servers and routes tool names to them.
//
// A tool name is routed to the server that registered it most recently,
// unless the registry is strict, in which case a name owned by another
// server is rejected with ErrDuplicateTool.
type Registry struct {
	lock    sync.RWMutex
	strict  bool
	order   []string
	servers map[string]*ServerHandle
	routes  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry(strict bool) *Registry {
	return &Registry{
		strict:  strict,
		servers: map[string]*ServerHandle{},
		routes:  map[string]string{},
	}
}

// Register stores the session and tools under id, replacing a previous
// registration with the same id, and routes every tool name to id.
// A replaced id keeps its original position in the registration order.
func (r *Registry) Register(id string, session mcp.Session, tools []mcp.Tool) error {
	if id == "" {
		return errors.New("server id is required")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.strict {
		for _, t := range tools {
			if owner, ok := r.routes[t.Name]; ok && owner != id {
				return errors.WithMessagef(ErrDuplicateTool, "tool %q is already provided by server %q", t.Name, owner)
			}
		}
	}

	if _, ok := r.servers[id]; !ok {
		r.order = append(r.order, id)
	}
	r.servers[id] = &ServerHandle{
		ID:      id,
		Session: session,
		Tools:   append([]mcp.Tool(nil), tools...),
	}
	for _, t := range tools {
		r.routes[t.Name] = id
	}
	return nil
}

// Resolve returns the id of the server that owns the tool.
func (r *Registry) Resolve(name string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.routes[name]
	if !ok {
		return "", errors.WithMessagef(ErrToolNotRegistered, "%q", name)
	}
	return id, nil
}

// Catalog returns the tools of all servers in registration order, then in
// the order each server advertised them. Duplicate names are kept.
func (r *Registry) Catalog() []mcp.Tool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var list []mcp.Tool
	for _, id := range r.order {
		list = append(list, r.servers[id].Tools...)
	}
	return list
}

// ToolNames returns the names of the catalog tools.
func (r *Registry) ToolNames() []string {
	catalog := r.Catalog()
	names := make([]string, len(catalog))
	for i, t := range catalog {
		names[i] = t.Name
	}
	return names
}

// Server returns the handle registered under id.
func (r *Registry) Server(id string) (*ServerHandle, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	h, ok := r.servers[id]
	return h, ok
}

// ServerIDs returns the ids in registration order.
func (r *Registry) ServerIDs() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.order)
}

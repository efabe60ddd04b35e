package supervisor

import (
	"fmt"
	"sync"
)

// Registry tracks the live process handle for each server name. At most
// one handle may be registered per name; Spawn enforces this by killing
// and deregistering any predecessor before registering a replacement.
//
// Construct with NewRegistry and share by reference; the registry is
// process-wide state that resets on restart.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Register adds a handle to the registry.
func (r *Registry) Register(handle *Handle) error {
	if handle == nil {
		return fmt.Errorf("cannot register nil handle")
	}
	name := handle.ServerName
	if name == "" {
		return fmt.Errorf("handle has empty server name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[name]; exists {
		return fmt.Errorf("process for %s already registered", name)
	}
	r.handles[name] = handle
	return nil
}

// Deregister removes the handle for name. Removing an unknown name is a
// no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, name)
}

// DeregisterHandle removes handle only if it is still the one registered
// under its server name. The exit goroutine uses this so a replacement
// registered by a concurrent Spawn is never removed by its predecessor's
// exit. Reports whether a removal happened.
func (r *Registry) DeregisterHandle(handle *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.handles[handle.ServerName]
	if !exists || current != handle {
		return false
	}
	delete(r.handles, handle.ServerName)
	return true
}

// Get returns the handle for name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, exists := r.handles[name]
	return handle, exists
}

// All returns all registered handles.
func (r *Registry) All() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]*Handle, 0, len(r.handles))
	for _, handle := range r.handles {
		handles = append(handles, handle)
	}
	return handles
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

package orchestrator

import (
	"context"
	"time"

	"mcpauth/internal/api"
	"mcpauth/internal/config"
	"mcpauth/internal/ports"
	"mcpauth/internal/supervisor"
	"mcpauth/internal/tokens"
	"mcpauth/internal/watcher"
	"mcpauth/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// CallbackPortAuto in a LaunchSpec's CallbackPort asks the orchestrator
// to allocate a port from the configured range.
const CallbackPortAuto = -1

// cleanupKillWait bounds how long Cleanup waits for each killed process
// to be reaped.
const cleanupKillWait = 2 * time.Second

// Orchestrator is the public entry point of the engine: it composes the
// port allocator, process supervisor, output watcher and token store
// into the full OAuth trigger flow.
//
// Construct one per embedding process with New and share it by
// reference; the process registry and allocated-port set it owns are
// process-wide state.
type Orchestrator struct {
	supervisor *supervisor.Supervisor
	registry   *supervisor.Registry
	allocator  *ports.Allocator
	store      *tokens.Store
	defTimeout time.Duration
}

// New wires an orchestrator from configuration.
func New(cfg config.Config) *Orchestrator {
	registry := supervisor.NewRegistry()
	store := tokens.NewStore()
	return &Orchestrator{
		supervisor: supervisor.NewSupervisor(registry, store, cfg),
		registry:   registry,
		allocator:  ports.NewAllocator(cfg.Ports),
		store:      store,
		defTimeout: time.Duration(cfg.TriggerTimeoutSeconds) * time.Second,
	}
}

// NewWithComponents wires an orchestrator from pre-built parts. Tests
// use this to inject fresh instances.
func NewWithComponents(sup *supervisor.Supervisor, allocator *ports.Allocator, store *tokens.Store) *Orchestrator {
	return &Orchestrator{
		supervisor: sup,
		registry:   sup.Registry(),
		allocator:  allocator,
		store:      store,
		defTimeout: api.DefaultTriggerTimeout,
	}
}

// TriggerOAuth runs the full flow for one launch spec: clear stale
// tokens, spawn the process with an isolated credential home, probe
// proxy-style servers, and watch the output until a token is found, an
// authorization URL is found, the timeout elapses, or the process exits.
//
// Every failure is returned as a TokenRecord, never as an error: the
// embedding layer branches on the result shape only. On every terminal
// outcome the process is killed and deregistered before returning; the
// one exception is the authorization-URL outcome, which leaves the
// process running so it can capture the token once the user completes
// the flow in the browser.
func (o *Orchestrator) TriggerOAuth(ctx context.Context, spec *api.LaunchSpec) *api.TokenRecord {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = o.defTimeout
	}
	if timeout <= 0 {
		timeout = api.DefaultTriggerTimeout
	}

	resolved := *spec
	allocatedPort := 0
	if spec.CallbackPort == CallbackPortAuto {
		port, err := o.allocator.Allocate()
		if err != nil {
			logging.Error("Orchestrator", err, "Callback port allocation failed for %s", spec.ServerName)
			return api.ErrorResult(err.Error())
		}
		resolved.CallbackPort = port
		allocatedPort = port
	}

	handle, err := o.supervisor.Spawn(ctx, &resolved)
	if err != nil {
		logging.Error("Orchestrator", err, "Spawn failed for %s", spec.ServerName)
		o.releasePort(allocatedPort)
		return api.ErrorResult(err.Error())
	}

	record := watcher.NewMonitor(handle, o.store, timeout).Run(ctx)

	if record.NeedsUserAction() {
		// Keep the process registered and its callback port held; the
		// token may still land on disk after the user authorizes.
		logging.Info("Orchestrator", "User action required for %s: %s", spec.ServerName, record.OAuthURL)
		return record
	}

	o.supervisor.Kill(spec.ServerName)
	o.releasePort(allocatedPort)

	if record.Success {
		logging.Info("Orchestrator", "OAuth flow for %s completed", spec.ServerName)
	} else {
		logging.Warn("Orchestrator", "OAuth flow for %s failed: %s", spec.ServerName, record.Error)
	}
	return record
}

// Cleanup kills and deregisters every tracked process and releases all
// allocated ports. Intended as a process-wide shutdown hook.
func (o *Orchestrator) Cleanup() {
	handles := o.registry.All()
	if len(handles) > 0 {
		logging.Info("Orchestrator", "Cleaning up %d tracked processes", len(handles))
	}

	var g errgroup.Group
	for _, handle := range handles {
		g.Go(func() error {
			handle.Kill()
			select {
			case <-handle.Done():
			case <-time.After(cleanupKillWait):
				logging.Warn("Orchestrator", "Process %s did not exit within %v", handle.ServerName, cleanupKillWait)
			}
			o.registry.DeregisterHandle(handle)
			return nil
		})
	}
	g.Wait()

	for _, port := range o.allocator.Allocated() {
		o.allocator.Release(port)
	}
}

// Registry exposes the process registry for status reporting.
func (o *Orchestrator) Registry() *supervisor.Registry {
	return o.registry
}

// Allocator exposes the port allocator for status reporting.
func (o *Orchestrator) Allocator() *ports.Allocator {
	return o.allocator
}

func (o *Orchestrator) releasePort(port int) {
	if port > 0 {
		o.allocator.Release(port)
	}
}

package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mcpauth/internal/api"
	"mcpauth/internal/config"
	"mcpauth/internal/jsonrpc"
	"mcpauth/internal/tokens"
	"mcpauth/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// authDirName is the directory OAuth client libraries write token
	// files into, resolved relative to the home directory the child
	// process sees.
	authDirName = ".mcp-auth"

	// remoteProxyMarker in the launch args identifies proxy-style
	// servers that tunnel to a remote URL and manage their own OAuth
	// handshake. These get the capability probe treatment.
	remoteProxyMarker = "mcp-remote"

	// killSettleDelay gives the OS a moment to reap a killed
	// predecessor before its replacement starts.
	killSettleDelay = 500 * time.Millisecond
)

// Probe request IDs, exported so the output watcher can correlate
// JSON-RPC responses without shared state.
const (
	ProbeIDListTools = 100
	ProbeIDAuthCall  = 101
)

// authProbeToolName is the capability called to provoke an OAuth
// challenge from servers that only request authentication lazily on the
// first authenticated call.
const authProbeToolName = "list_issues"

// Supervisor spawns one OS process per server name with an isolated
// credential home, guaranteeing any previous process for the same name
// is terminated first.
type Supervisor struct {
	registry  *Registry
	store     *tokens.Store
	storeRoot string

	// settleDelay and probeDelay pace the capability probes for
	// remote-proxy servers. Overridable in tests.
	settleDelay time.Duration
	probeDelay  time.Duration
}

// NewSupervisor creates a supervisor writing isolated credential
// directories under cfg.PackageStoreRoot.
func NewSupervisor(registry *Registry, store *tokens.Store, cfg config.Config) *Supervisor {
	return &Supervisor{
		registry:    registry,
		store:       store,
		storeRoot:   cfg.PackageStoreRoot,
		settleDelay: 2 * time.Second,
		probeDelay:  2 * time.Second,
	}
}

// CredentialDir resolves the directory the spawned process's OAuth
// library will write token files into. With a server UUID the directory
// is isolated per server under the package store; without one the
// legacy shared auth directory is used, which risks cross-server token
// collisions.
func (s *Supervisor) CredentialDir(spec *api.LaunchSpec) string {
	if spec.ServerUUID != "" {
		return filepath.Join(s.storeRoot, "servers", spec.ServerUUID, "oauth", authDirName)
	}

	logging.Warn("Supervisor", "No server UUID for %s, using shared auth directory", spec.ServerName)
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(s.storeRoot, authDirName)
	}
	return filepath.Join(homeDir, authDirName)
}

// Spawn starts the process described by spec. Any existing process for
// the same server name is killed and deregistered first, and stale
// token files are cleared so a fresh authentication is always forced.
func (s *Supervisor) Spawn(ctx context.Context, spec *api.LaunchSpec) (*Handle, error) {
	credentialDir := s.CredentialDir(spec)
	if err := os.MkdirAll(credentialDir, 0o700); err != nil {
		return nil, &api.SpawnError{ServerName: spec.ServerName, Reason: err}
	}

	if existing, ok := s.registry.Get(spec.ServerName); ok {
		logging.Info("Supervisor", "Replacing existing process for %s (pid %d)", spec.ServerName, existing.Pid())
		existing.Kill()
		s.registry.DeregisterHandle(existing)
		time.Sleep(killSettleDelay)
	}

	s.store.Clear(credentialDir, spec.ServerName)

	// Deliberately not CommandContext: an attempt that returns an
	// authorization URL leaves the process running so the eventual token
	// can still be captured, even after the attempt's context ends.
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = buildEnv(spec, filepath.Dir(credentialDir))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &api.SpawnError{ServerName: spec.ServerName, Reason: err}
	}

	// Output goes through plain os.Pipe pairs rather than StdoutPipe:
	// Wait runs as soon as the process exits, while the watcher may still
	// be draining buffered output, and StdoutPipe forbids that ordering.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &api.SpawnError{ServerName: spec.ServerName, Reason: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &api.SpawnError{ServerName: spec.ServerName, Reason: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, &api.SpawnError{ServerName: spec.ServerName, Reason: err}
	}

	// Close the parent's copies of the write ends so the readers see EOF
	// once the child exits.
	stdoutW.Close()
	stderrW.Close()

	handle := &Handle{
		ServerName:    spec.ServerName,
		CredentialDir: credentialDir,
		Stdin:         stdin,
		Stdout:        stdoutR,
		Stderr:        stderrR,
		cmd:           cmd,
		done:          make(chan struct{}),
	}

	if err := s.registry.Register(handle); err != nil {
		handle.Kill()
		return nil, &api.SpawnError{ServerName: spec.ServerName, Reason: err}
	}

	logging.Info("Supervisor", "Spawned %s (pid %d): %s %s",
		spec.ServerName, handle.Pid(), spec.Command, strings.Join(spec.Args, " "))

	go func() {
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()
		if err != nil && code == -1 {
			logging.Debug("Supervisor", "Process %s terminated: %v", spec.ServerName, err)
		}
		// Deregister before signalling exit so Done waiters observe a
		// clean registry. The identity check keeps a replacement handle
		// registered by a concurrent Spawn intact.
		if s.registry.DeregisterHandle(handle) {
			logging.Debug("Supervisor", "Process %s exited with code %d, deregistered", spec.ServerName, code)
		}
		handle.recordExit(code)
	}()

	if isRemoteProxy(spec.Args) {
		go s.sendCapabilityProbes(ctx, handle)
	}

	return handle, nil
}

// Kill terminates and deregisters the process for serverName. Idempotent.
func (s *Supervisor) Kill(serverName string) {
	handle, ok := s.registry.Get(serverName)
	if !ok {
		return
	}
	handle.Kill()
	s.registry.DeregisterHandle(handle)
	logging.Info("Supervisor", "Killed process for %s", serverName)
}

// Registry returns the underlying process registry.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// sendCapabilityProbes writes one or two JSON-RPC requests to the
// process's stdin after it has had time to establish its tunnel: first
// a capability listing, then a call that typically requires
// authentication. Proxy-style servers only surface their OAuth
// challenge on the first authenticated call, so the probe provokes it
// instead of making the caller guess when to.
func (s *Supervisor) sendCapabilityProbes(ctx context.Context, handle *Handle) {
	select {
	case <-ctx.Done():
		return
	case <-handle.Done():
		return
	case <-time.After(s.settleDelay):
	}

	listReq := jsonrpc.NewRequest(ProbeIDListTools, string(mcp.MethodToolsList), map[string]any{})
	if err := writeRequest(handle, listReq); err != nil {
		logging.Debug("Supervisor", "tools/list probe for %s failed: %v", handle.ServerName, err)
		return
	}
	logging.Debug("Supervisor", "Sent tools/list probe to %s", handle.ServerName)

	select {
	case <-ctx.Done():
		return
	case <-handle.Done():
		return
	case <-time.After(s.probeDelay):
	}

	callReq := jsonrpc.NewRequest(ProbeIDAuthCall, string(mcp.MethodToolsCall), map[string]any{
		"name":      authProbeToolName,
		"arguments": map[string]any{},
	})
	if err := writeRequest(handle, callReq); err != nil {
		logging.Debug("Supervisor", "auth probe for %s failed: %v", handle.ServerName, err)
		return
	}
	logging.Debug("Supervisor", "Sent auth probe (%s) to %s", authProbeToolName, handle.ServerName)
}

func writeRequest(handle *Handle, req jsonrpc.Request) error {
	data, err := req.Encode()
	if err != nil {
		return err
	}
	_, err = handle.Stdin.Write(data)
	return err
}

func isRemoteProxy(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, remoteProxyMarker) {
			return true
		}
	}
	return false
}

// buildEnv merges spec.Env over the ambient environment, overrides HOME
// to the parent of the credential directory so the child's OAuth
// library writes tokens into the isolated location, and exports the
// callback port when one was allocated.
func buildEnv(spec *api.LaunchSpec, homeDir string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range spec.Env {
		merged[k] = v
	}
	merged["HOME"] = homeDir
	if spec.CallbackPort > 0 {
		merged[config.EnvCallbackPort] = strconv.Itoa(spec.CallbackPort)
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

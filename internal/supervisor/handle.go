package supervisor

import (
	"io"
	"os/exec"
	"sync"

	"mcpauth/pkg/logging"
)

// Handle is a running child process bound to one server name. It is
// created by Spawn and removed from the registry on exit, explicit kill
// or orchestrator cleanup.
type Handle struct {
	ServerName    string
	CredentialDir string

	// Stdin accepts JSON-RPC probe writes; Stdout and Stderr feed the
	// output watcher.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
}

// Done is closed once the process has exited and its exit state is
// recorded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the recorded exit code. Only meaningful after Done
// is closed; the second return reports whether the process has exited.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

// Kill terminates the process if it is still running. Idempotent.
func (h *Handle) Kill() {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()

	if exited || h.cmd == nil || h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Kill(); err != nil {
		logging.Debug("Supervisor", "Kill for %s: %v", h.ServerName, err)
	}
}

// Pid returns the OS process id, or 0 when unavailable.
func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// recordExit stores the exit state and closes the done channel. Called
// exactly once by the wait goroutine.
func (h *Handle) recordExit(code int) {
	h.mu.Lock()
	h.exitCode = code
	h.exited = true
	h.mu.Unlock()
	close(h.done)
}

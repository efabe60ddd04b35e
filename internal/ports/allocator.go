package ports

import (
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"

	"mcpauth/internal/api"
	"mcpauth/internal/config"
	"mcpauth/pkg/logging"
)

// maxRandomAttempts caps random probing before falling back to a
// sequential scan of the range.
const maxRandomAttempts = 100

// Allocator hands out TCP ports for local OAuth redirect listeners.
// Construct one per process with NewAllocator and share it by reference;
// the allocated set lives for the process lifetime and is never persisted.
type Allocator struct {
	mu         sync.Mutex
	allocated  map[int]struct{}
	rangeStart int
	rangeEnd   int
}

// NewAllocator creates an allocator over the configured range. The range
// is assumed to be normalized by the config loader (start < end, within
// [1024, 65535]).
func NewAllocator(cfg config.PortsConfig) *Allocator {
	return &Allocator{
		allocated:  make(map[int]struct{}),
		rangeStart: cfg.RangeStart,
		rangeEnd:   cfg.RangeEnd,
	}
}

// Allocate returns a free port from the configured range. Random probing
// runs first; when it exhausts its attempts a sequential scan covers the
// whole range; when the range is fully occupied the OS assigns any free
// port via a :0 bind. Only a failing :0 bind is an error.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rangeSize := a.rangeEnd - a.rangeStart + 1
	attempts := maxRandomAttempts
	if rangeSize < attempts {
		attempts = rangeSize
	}

	for i := 0; i < attempts; i++ {
		candidate := a.rangeStart + rand.Intn(rangeSize)
		if _, taken := a.allocated[candidate]; taken {
			continue
		}
		if bindable(candidate) {
			a.allocated[candidate] = struct{}{}
			logging.Debug("PortAllocator", "Allocated port %d", candidate)
			return candidate, nil
		}
	}

	// Random probing missed; scan the range in order.
	for candidate := a.rangeStart; candidate <= a.rangeEnd; candidate++ {
		if _, taken := a.allocated[candidate]; taken {
			continue
		}
		if bindable(candidate) {
			a.allocated[candidate] = struct{}{}
			logging.Debug("PortAllocator", "Allocated port %d via sequential scan", candidate)
			return candidate, nil
		}
	}

	// Whole range occupied; let the OS pick.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, &api.PortExhaustedError{
			RangeStart: a.rangeStart,
			RangeEnd:   a.rangeEnd,
			Reason:     err,
		}
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	a.allocated[port] = struct{}{}
	logging.Warn("PortAllocator", "Range %d-%d exhausted, using OS-assigned port %d",
		a.rangeStart, a.rangeEnd, port)
	return port, nil
}

// Release returns a port to the pool. Releasing an unallocated or
// already-released port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, port)
}

// Allocated returns the currently allocated ports in ascending order.
func (a *Allocator) Allocated() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int, 0, len(a.allocated))
	for port := range a.allocated {
		out = append(out, port)
	}
	sort.Ints(out)
	return out
}

// Range returns the configured range bounds.
func (a *Allocator) Range() (int, int) {
	return a.rangeStart, a.rangeEnd
}

// legacyPorts maps server name fragments to the fixed ports those
// integrations were wired to before the allocator existed.
var legacyPorts = []struct {
	fragment string
	port     int
}{
	{"linear", 14881},
	{"notion", 14882},
	{"asana", 14883},
}

// LegacyPort returns the fixed compatibility port for known server types.
// New integrations should use Allocate instead.
func LegacyPort(serverType string) int {
	lower := strings.ToLower(serverType)
	for _, entry := range legacyPorts {
		if strings.Contains(lower, entry.fragment) {
			return entry.port
		}
	}
	return 14881
}

// LegacyPortMap returns a copy of the fixed compatibility assignments,
// keyed by server name fragment.
func LegacyPortMap() map[string]int {
	out := make(map[string]int, len(legacyPorts))
	for _, entry := range legacyPorts {
		out[entry.fragment] = entry.port
	}
	return out
}

// bindable tests availability by binding a throwaway listener.
func bindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

package ports

import (
	"fmt"
	"net"
	"testing"

	"mcpauth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(start, end int) *Allocator {
	return NewAllocator(config.PortsConfig{RangeStart: start, RangeEnd: end})
}

func TestAllocateReturnsDistinctPortsInRange(t *testing.T) {
	a := newTestAllocator(31000, 31100)

	seen := make(map[int]bool)
	for i := 0; i < 20; i++ {
		port, err := a.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d handed out twice", port)
		assert.GreaterOrEqual(t, port, 31000)
		assert.LessOrEqual(t, port, 31100)
		seen[port] = true
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := newTestAllocator(31200, 31210)

	port, err := a.Allocate()
	require.NoError(t, err)

	a.Release(port)
	a.Release(port)
	a.Release(65000) // never allocated

	// The released port can be handed out again.
	seen := make(map[int]bool)
	for i := 0; i <= 31210-31200; i++ {
		p, err := a.Allocate()
		require.NoError(t, err)
		seen[p] = true
	}
	assert.True(t, seen[port], "released port should be allocatable again")
}

func TestAllocateFallsBackToOSWhenRangeOccupied(t *testing.T) {
	// Two-port range, both marked allocated in the set so the scan skips
	// them; the allocator must fall through to an OS-assigned port.
	a := newTestAllocator(31300, 31301)
	a.allocated[31300] = struct{}{}
	a.allocated[31301] = struct{}{}

	port, err := a.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, 31300, port)
	assert.NotEqual(t, 31301, port)
	assert.Greater(t, port, 0)
}

func TestAllocateSkipsBoundPorts(t *testing.T) {
	a := newTestAllocator(31400, 31401)

	// Occupy one port of the range externally.
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", 31400))
	if err != nil {
		t.Skipf("could not bind fixture port: %v", err)
	}
	defer listener.Close()

	port, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 31401, port)
}

func TestAllocatedReportsSortedPorts(t *testing.T) {
	a := newTestAllocator(31500, 31520)

	var allocated []int
	for i := 0; i < 3; i++ {
		port, err := a.Allocate()
		require.NoError(t, err)
		allocated = append(allocated, port)
	}

	reported := a.Allocated()
	assert.Len(t, reported, 3)
	assert.IsIncreasing(t, reported)
	for _, port := range allocated {
		assert.Contains(t, reported, port)
	}
}

func TestLegacyPort(t *testing.T) {
	tests := []struct {
		serverType string
		want       int
	}{
		{"linear", 14881},
		{"mcp-linear-server", 14881},
		{"Notion", 14882},
		{"asana-remote", 14883},
		{"something-else", 14881},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LegacyPort(tt.serverType), "serverType %q", tt.serverType)
	}
}

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mcpauth/internal/api"
	"mcpauth/internal/config"
	"mcpauth/internal/ports"
	"mcpauth/internal/supervisor"
	"mcpauth/internal/tokens"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	store := tokens.NewStore()
	sup := supervisor.NewSupervisor(supervisor.NewRegistry(), store, config.Config{
		PackageStoreRoot: t.TempDir(),
	})
	allocator := ports.NewAllocator(config.PortsConfig{RangeStart: 32000, RangeEnd: 32100})
	o := NewWithComponents(sup, allocator, store)
	t.Cleanup(o.Cleanup)
	return o
}

func shellSpec(name, script string) *api.LaunchSpec {
	return &api.LaunchSpec{
		ServerName: name,
		ServerUUID: "uuid-" + name,
		Command:    "/bin/sh",
		Args:       []string{"-c", script},
		Timeout:    10 * time.Second,
	}
}

func assertMutuallyExclusive(t *testing.T, record *api.TokenRecord) {
	t.Helper()
	shapes := 0
	if record.Success && record.Token != "" {
		shapes++
	}
	if !record.Success && record.OAuthURL != "" {
		shapes++
	}
	if !record.Success && record.Error != "" {
		shapes++
	}
	assert.Equal(t, 1, shapes, "exactly one terminal shape must hold: %+v", record)
}

func TestTriggerOAuthAuthURLOnStderr(t *testing.T) {
	o := newTestOrchestrator(t)

	record := o.TriggerOAuth(context.Background(), shellSpec("url-srv",
		`echo 'Please authorize this client by visiting: https://example.com/oauth/authorize?x=1' >&2; sleep 30`))

	require.NotNil(t, record)
	assert.False(t, record.Success)
	assert.Equal(t, "https://example.com/oauth/authorize?x=1", record.OAuthURL)
	assertMutuallyExclusive(t, record)

	// The process stays registered so the eventual token can still be
	// captured after the user authorizes.
	_, registered := o.Registry().Get("url-srv")
	assert.True(t, registered)
}

func TestTriggerOAuthJSONRPCErrorURL(t *testing.T) {
	o := newTestOrchestrator(t)

	record := o.TriggerOAuth(context.Background(), shellSpec("rpc-srv",
		`echo '{"jsonrpc":"2.0","id":101,"error":{"code":-32001,"message":"Visit: https://linear.app/oauth/foo"}}'; sleep 30`))

	require.NotNil(t, record)
	assert.Equal(t, "https://linear.app/oauth/foo", record.OAuthURL)
	assertMutuallyExclusive(t, record)
}

func TestTriggerOAuthInlineBearerToken(t *testing.T) {
	o := newTestOrchestrator(t)

	record := o.TriggerOAuth(context.Background(), shellSpec("inline-srv",
		`echo 'access_token=abc123'; sleep 30`))

	require.NotNil(t, record)
	assert.True(t, record.Success)
	assert.Equal(t, "abc123", record.Token)
	assert.Equal(t, api.TokenTypeBearer, record.TokenType)
	assertMutuallyExclusive(t, record)

	// Terminal outcome: the process must be gone from the registry.
	_, registered := o.Registry().Get("inline-srv")
	assert.False(t, registered)
}

func TestTriggerOAuthExitZeroWithTokenFile(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := shellSpec("exit0-srv", `mkdir -p "$HOME/.mcp-auth"; printf '{"access_token":"zzz"}' > "$HOME/.mcp-auth/tokens.json"; exit 0`)

	record := o.TriggerOAuth(context.Background(), spec)

	require.NotNil(t, record)
	assert.True(t, record.Success)
	assert.Equal(t, "zzz", record.Token)
	assertMutuallyExclusive(t, record)
}

func TestTriggerOAuthExitOneNoToken(t *testing.T) {
	o := newTestOrchestrator(t)

	record := o.TriggerOAuth(context.Background(), shellSpec("exit1-srv", `exit 1`))

	require.NotNil(t, record)
	assert.False(t, record.Success)
	assert.Contains(t, record.Error, "code 1")
	assertMutuallyExclusive(t, record)

	_, registered := o.Registry().Get("exit1-srv")
	assert.False(t, registered)
}

func TestTriggerOAuthTimeoutEnforced(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := shellSpec("hang-srv", `sleep 30`)
	spec.Timeout = 100 * time.Millisecond

	start := time.Now()
	record := o.TriggerOAuth(context.Background(), spec)
	elapsed := time.Since(start)

	require.NotNil(t, record)
	assert.False(t, record.Success)
	assert.Contains(t, record.Error, "timed out")
	assert.Less(t, elapsed, 2*time.Second)
	assertMutuallyExclusive(t, record)

	_, registered := o.Registry().Get("hang-srv")
	assert.False(t, registered, "no orphaned process may stay registered after timeout")
}

func TestTriggerOAuthSpawnFailure(t *testing.T) {
	o := newTestOrchestrator(t)

	record := o.TriggerOAuth(context.Background(), &api.LaunchSpec{
		ServerName: "bad-srv",
		ServerUUID: "uuid-bad",
		Command:    "/nonexistent/binary",
		Timeout:    time.Second,
	})

	require.NotNil(t, record)
	assert.False(t, record.Success)
	assert.Contains(t, record.Error, "bad-srv")
	assertMutuallyExclusive(t, record)
	assert.Equal(t, 0, o.Registry().Count())
}

func TestTriggerOAuthAllocatesCallbackPort(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := shellSpec("port-srv", `echo "PORT=$MCP_OAUTH_CALLBACK_PORT"; exit 1`)
	spec.CallbackPort = CallbackPortAuto

	record := o.TriggerOAuth(context.Background(), spec)
	require.NotNil(t, record)

	// Failure path: the allocated port must have been released again.
	assert.Empty(t, o.Allocator().Allocated())
}

func TestTriggerOAuthKeepsPortWhileAwaitingUser(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := shellSpec("await-srv", `echo 'Visit: https://example.com/oauth/x' >&2; sleep 30`)
	spec.CallbackPort = CallbackPortAuto

	record := o.TriggerOAuth(context.Background(), spec)
	require.NotNil(t, record)
	require.True(t, record.NeedsUserAction())

	assert.Len(t, o.Allocator().Allocated(), 1,
		"callback port stays held while the process keeps running")
}

func TestCleanupKillsEverything(t *testing.T) {
	o := newTestOrchestrator(t)

	r1 := o.TriggerOAuth(context.Background(), shellSpec("c1",
		`echo 'Visit: https://example.com/oauth/1' >&2; sleep 30`))
	r2 := o.TriggerOAuth(context.Background(), shellSpec("c2",
		`echo 'Visit: https://example.com/oauth/2' >&2; sleep 30`))
	require.True(t, r1.NeedsUserAction())
	require.True(t, r2.NeedsUserAction())
	require.Equal(t, 2, o.Registry().Count())

	h1, _ := o.Registry().Get("c1")
	h2, _ := o.Registry().Get("c2")

	o.Cleanup()

	assert.Equal(t, 0, o.Registry().Count())
	assert.Empty(t, o.Allocator().Allocated())
	for _, h := range []*supervisor.Handle{h1, h2} {
		select {
		case <-h.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("cleanup did not terminate a tracked process")
		}
	}
}

func TestStaleTokensClearedBeforeFreshAttempt(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := shellSpec("stale-srv", `exit 1`)

	// Pre-populate a stale token where the spawn will look for it.
	dir := o.supervisor.CredentialDir(spec)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokens.json"), []byte(`{"access_token":"stale"}`), 0o600))

	record := o.TriggerOAuth(context.Background(), spec)

	// The stale token must not be reported as a fresh authentication.
	require.NotNil(t, record)
	assert.False(t, record.Success)
	assert.NoFileExists(t, filepath.Join(dir, "tokens.json"))
}

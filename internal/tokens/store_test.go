package tokens

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestScanRemoteProxyDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mcp-remote-0.1.29", "abc123_tokens.json"),
		`{"access_token":"at-1","refresh_token":"rt-1","expires_at":1900000000,"scope":"read write"}`)

	record := NewStore().Scan(dir, "linear")
	require.NotNil(t, record)
	assert.True(t, record.Success)
	assert.Equal(t, "at-1", record.Token)
	require.NotNil(t, record.Metadata)
	assert.Equal(t, "rt-1", record.Metadata.RefreshToken)
	assert.Equal(t, "read write", record.Metadata.Scope)
	assert.Equal(t, time.Unix(1900000000, 0), record.Metadata.ExpiresAt)
}

func TestScanCandidateFileNames(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		content  string
		want     string
	}{
		{"server name file", "linear.json", `{"access_token":"aaa"}`, "aaa"},
		{"server token file", "linear-token.json", `{"accessToken":"bbb"}`, "bbb"},
		{"generic tokens file", "tokens.json", `{"token":"ccc"}`, "ccc"},
		{"auth file with nested oauth", "auth.json", `{"oauth":{"access_token":"ddd"}}`, "ddd"},
		{"nested camelCase", "credentials.json", `{"oauth":{"accessToken":"eee"}}`, "eee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, tt.fileName), tt.content)

			record := NewStore().Scan(dir, "linear")
			require.NotNil(t, record)
			assert.Equal(t, tt.want, record.Token)
		})
	}
}

func TestScanServerSubdir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notion", "whatever.json"), `{"access_token":"sub-token"}`)

	record := NewStore().Scan(dir, "notion")
	require.NotNil(t, record)
	assert.Equal(t, "sub-token", record.Token)
}

func TestScanHashedFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, HashedFileName("asana")), `{"access_token":"hashed"}`)

	record := NewStore().Scan(dir, "asana")
	require.NotNil(t, record)
	assert.Equal(t, "hashed", record.Token)
}

func TestScanSkipsMalformedCandidates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "linear.json"), `{not json`)
	writeFile(t, filepath.Join(dir, "tokens.json"), `{"access_token":"good"}`)

	record := NewStore().Scan(dir, "linear")
	require.NotNil(t, record, "malformed candidate must not abort the scan")
	assert.Equal(t, "good", record.Token)
}

func TestScanNoTokenReturnsNil(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tokens.json"), `{"unrelated":"data"}`)

	assert.Nil(t, NewStore().Scan(dir, "linear"))
	assert.Nil(t, NewStore().Scan(t.TempDir(), "linear"))
}

func TestClearRemovesCandidatesAndSubdir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "linear.json"), `{"access_token":"x"}`)
	writeFile(t, filepath.Join(dir, "tokens.json"), `{"access_token":"y"}`)
	writeFile(t, filepath.Join(dir, "linear", "a.json"), `{"access_token":"z"}`)

	store := NewStore()
	store.Clear(dir, "linear")

	assert.NoFileExists(t, filepath.Join(dir, "linear.json"))
	assert.NoFileExists(t, filepath.Join(dir, "tokens.json"))
	assert.NoDirExists(t, filepath.Join(dir, "linear"))
	assert.Nil(t, store.Scan(dir, "linear"))

	// Clearing again, and clearing a directory that never existed, is fine.
	store.Clear(dir, "linear")
	store.Clear(filepath.Join(dir, "nope"), "linear")
}

func TestWaitForTokenFindsExistingFileImmediately(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tokens.json"), `{"access_token":"pre-existing"}`)

	record := NewStore().WaitForToken(context.Background(), dir, "linear", 3, 50*time.Millisecond)
	require.NotNil(t, record)
	assert.Equal(t, "pre-existing", record.Token)
}

func TestWaitForTokenSeesLateFile(t *testing.T) {
	dir := t.TempDir()

	go func() {
		time.Sleep(80 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "tokens.json"), []byte(`{"access_token":"late"}`), 0o600)
	}()

	record := NewStore().WaitForToken(context.Background(), dir, "linear", 10, 50*time.Millisecond)
	require.NotNil(t, record)
	assert.Equal(t, "late", record.Token)
}

func TestWaitForTokenGivesUpAfterAttempts(t *testing.T) {
	start := time.Now()
	record := NewStore().WaitForToken(context.Background(), t.TempDir(), "linear", 3, 20*time.Millisecond)
	assert.Nil(t, record)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForTokenHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	record := NewStore().WaitForToken(ctx, t.TempDir(), "linear", 100, time.Second)
	assert.Nil(t, record)
}

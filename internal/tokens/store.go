package tokens

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mcpauth/internal/api"
	"mcpauth/pkg/logging"
)

// remoteProxyDirPrefix names the subdirectories the mcp-remote proxy
// creates under the credential directory for its own token storage.
const remoteProxyDirPrefix = "mcp-remote"

// candidateFileNames lists the token files third-party OAuth client
// libraries are known to write directly into the credential directory.
// Checked in order; serverName-derived names are prepended at scan time.
var candidateFileNames = []string{
	"tokens.json",
	"auth.json",
	"credentials.json",
	"linear-auth.json",
	"notion-auth.json",
	"asana-auth.json",
}

// Store scans and clears persisted OAuth token files under a credential
// directory. The on-disk shapes are owned by the OAuth libraries of the
// spawned processes, not by this codebase, so every probe is defensive:
// malformed JSON skips the candidate, missing paths are ignored.
type Store struct{}

// NewStore creates a token store.
func NewStore() *Store {
	return &Store{}
}

// Scan searches dir for a persisted OAuth token for serverName and
// normalizes the first match. A nil result means "no token yet", which
// is not an error.
func (s *Store) Scan(dir, serverName string) *api.TokenRecord {
	if record := s.scanRemoteProxyDirs(dir); record != nil {
		return record
	}
	if record := s.scanCandidateFiles(dir, serverName); record != nil {
		return record
	}
	if record := s.scanServerSubdir(dir, serverName); record != nil {
		return record
	}
	return s.scanHashedFile(dir, serverName)
}

// Clear deletes the known token files and the serverName subdirectory
// so stale credentials never mask a fresh authentication attempt.
// Missing files and directories are silently ignored.
func (s *Store) Clear(dir, serverName string) {
	for _, name := range candidateNames(serverName) {
		os.Remove(filepath.Join(dir, name))
	}
	os.RemoveAll(filepath.Join(dir, serverName))
	logging.Debug("TokenStore", "Cleared stale token files for %s in %s", serverName, dir)
}

// scanRemoteProxyDirs covers tokens persisted by mcp-remote style
// proxies: <dir>/mcp-remote-*/*_tokens.json.
func (s *Store) scanRemoteProxyDirs(dir string) *api.TokenRecord {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), remoteProxyDirPrefix) {
			continue
		}
		subdir := filepath.Join(dir, entry.Name())
		files, err := os.ReadDir(subdir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), "_tokens.json") {
				continue
			}
			if record := parseRemoteProxyFile(filepath.Join(subdir, file.Name())); record != nil {
				return record
			}
		}
	}
	return nil
}

func (s *Store) scanCandidateFiles(dir, serverName string) *api.TokenRecord {
	for _, name := range candidateNames(serverName) {
		if record := probeTokenFile(filepath.Join(dir, name)); record != nil {
			return record
		}
	}
	return nil
}

func (s *Store) scanServerSubdir(dir, serverName string) *api.TokenRecord {
	subdir := filepath.Join(dir, serverName)
	files, err := os.ReadDir(subdir)
	if err != nil {
		return nil
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		if record := probeTokenFile(filepath.Join(subdir, file.Name())); record != nil {
			return record
		}
	}
	return nil
}

// scanHashedFile is the last-resort guess for tools that key storage by
// a hash of the server identity.
func (s *Store) scanHashedFile(dir, serverName string) *api.TokenRecord {
	sum := md5.Sum([]byte(serverName))
	name := hex.EncodeToString(sum[:]) + ".json"
	return probeTokenFile(filepath.Join(dir, name))
}

func candidateNames(serverName string) []string {
	names := []string{
		serverName + ".json",
		serverName + "-token.json",
	}
	return append(names, candidateFileNames...)
}

// remoteProxyTokenFile is the shape mcp-remote writes.
type remoteProxyTokenFile struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    json.RawMessage `json:"expires_at"`
	Scope        string          `json:"scope"`
}

func parseRemoteProxyFile(path string) *api.TokenRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var parsed remoteProxyTokenFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		logging.Debug("TokenStore", "Skipping malformed token file %s: %v", path, err)
		return nil
	}
	if parsed.AccessToken == "" {
		return nil
	}

	record := api.TokenResult(parsed.AccessToken, api.TokenTypeOAuth)
	record.Metadata = &api.TokenMetadata{
		Provider:     "mcp-remote",
		RefreshToken: parsed.RefreshToken,
		Scope:        parsed.Scope,
		ExpiresAt:    parseExpiry(parsed.ExpiresAt),
	}
	return record
}

// parseExpiry accepts the two expires_at encodings seen in the wild:
// unix seconds and RFC 3339.
func parseExpiry(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var seconds int64
	if err := json.Unmarshal(raw, &seconds); err == nil && seconds > 0 {
		return time.Unix(seconds, 0)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := time.Parse(time.RFC3339, text); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// probeTokenFile reads path as JSON and probes the token field spellings
// used across OAuth client libraries.
func probeTokenFile(path string) *api.TokenRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		logging.Debug("TokenStore", "Skipping malformed token file %s: %v", path, err)
		return nil
	}

	token := extractTokenField(parsed)
	if token == "" {
		return nil
	}

	record := api.TokenResult(token, api.TokenTypeOAuth)
	record.Metadata = metadataFromMap(parsed)
	return record
}

// extractTokenField probes access_token | accessToken | token |
// oauth.access_token | oauth.accessToken, in that order.
func extractTokenField(parsed map[string]any) string {
	for _, key := range []string{"access_token", "accessToken", "token"} {
		if v, ok := parsed[key].(string); ok && v != "" {
			return v
		}
	}
	if nested, ok := parsed["oauth"].(map[string]any); ok {
		for _, key := range []string{"access_token", "accessToken"} {
			if v, ok := nested[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func metadataFromMap(parsed map[string]any) *api.TokenMetadata {
	meta := &api.TokenMetadata{}
	populated := false

	if v, ok := parsed["refresh_token"].(string); ok && v != "" {
		meta.RefreshToken = v
		populated = true
	}
	if v, ok := parsed["scope"].(string); ok && v != "" {
		meta.Scope = v
		populated = true
	}
	if v, ok := parsed["provider"].(string); ok && v != "" {
		meta.Provider = v
		populated = true
	}
	switch v := parsed["expires_at"].(type) {
	case float64:
		meta.ExpiresAt = time.Unix(int64(v), 0)
		populated = true
	case string:
		if expiry, err := time.Parse(time.RFC3339, v); err == nil {
			meta.ExpiresAt = expiry
			populated = true
		}
	}

	if !populated {
		return nil
	}
	return meta
}

// HashedFileName exposes the last-resort file name probed by Scan,
// mainly for diagnostics output.
func HashedFileName(serverName string) string {
	sum := md5.Sum([]byte(serverName))
	return fmt.Sprintf("%s.json", hex.EncodeToString(sum[:]))
}

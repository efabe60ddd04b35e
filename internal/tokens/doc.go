// Package tokens reads and clears the OAuth token files that spawned MCP
// server processes persist into their isolated credential directories.
//
// The file shapes are owned by third-party OAuth client libraries and
// vary: mcp-remote writes <dir>/mcp-remote-*/<hash>_tokens.json, other
// tools write <serverName>.json, tokens.json or a hash-derived name.
// Scan probes the known shapes in order and normalizes the first hit
// into an api.TokenRecord.
package tokens

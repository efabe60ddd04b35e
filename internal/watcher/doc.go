// Package watcher classifies the stdout/stderr of spawned MCP server
// processes into OAuth outcomes, racing a timeout.
//
// MCP server implementations signal OAuth status in wildly different
// ways: structured JSON-RPC errors, free-text log lines, or
// provider-specific phrases. The classifiers are therefore independent
// best-effort heuristics combined first-match-wins per chunk, not a
// single protocol parser. The Monitor drives them as a one-shot state
// machine: Running transitions to exactly one of token-found,
// authorization-URL-found, timed-out or exited.
package watcher

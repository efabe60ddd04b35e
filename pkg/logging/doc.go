// Package logging provides a thin subsystem-tagged wrapper around log/slog.
//
// Two modes are supported: CLI mode writes slog text records to a writer,
// channel mode delivers structured LogEntry values to an embedding host
// that renders them itself. Initialize exactly one mode at startup via
// InitForCLI or InitWithChannel.
package logging

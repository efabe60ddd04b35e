package api

import "fmt"

// SpawnError indicates the child process could not be started at all
// (bad command, missing binary). It is converted to an ErrorResult at
// the orchestrator boundary rather than propagated to the caller.
type SpawnError struct {
	ServerName string
	Reason     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn process for %s: %v", e.ServerName, e.Reason)
}

func (e *SpawnError) Unwrap() error {
	return e.Reason
}

// PortExhaustedError indicates no callback port could be obtained, even
// after falling back to an OS-assigned port. This is fatal to the attempt.
type PortExhaustedError struct {
	RangeStart int
	RangeEnd   int
	Reason     error
}

func (e *PortExhaustedError) Error() string {
	return fmt.Sprintf("no callback port available in range %d-%d (OS fallback failed: %v)",
		e.RangeStart, e.RangeEnd, e.Reason)
}

func (e *PortExhaustedError) Unwrap() error {
	return e.Reason
}

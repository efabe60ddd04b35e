// Package orchestrator composes the port allocator, process supervisor,
// output watcher and token store into the public TriggerOAuth entry
// point consumed by the embedding layer.
//
// The orchestrator is deliberately thin: its value is the state machine
// tying the parts together and the guarantee that every attempt either
// returns within its timeout or not at all, with no orphaned process
// left registered afterwards.
package orchestrator

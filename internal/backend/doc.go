// Package backend defines the Query Backend used to talk to powerline
// adapters, and the implementations the server can be configured with.
//
// A Backend speaks to one physical interface. Calls block until the
// adapters answer or the context deadline passes, and a Backend is not
// safe for concurrent use: callers go through the scheduler, which
// serializes every call behind a single gate.
//
// # Implementations
//
// CommandBackend runs a pla-util compatible helper that prints JSON, either
// locally (LocalRunner) or on the host that owns the powerline interface
// (SSHRunner).
//
// FixtureBackend answers from a YAML document. It is used for dry runs and
// tests.
//
// Adapt wraps older backends whose calls take no context and no timeout.
package backend

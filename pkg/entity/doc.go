// Package entity provides the core lifecycle contract every managed
// resource type implements and the dispatch machinery the orchestrator
// drives.
//
// An entity instance is one managed external resource, identified by an
// orchestrator-assigned path. It carries a definition (desired state,
// immutable per invocation), a state (observed facts, persisted across
// invocations) and free-form metadata. The orchestrator constructs the
// instance from persisted data, invokes exactly one action through
// Core.Main, and persists the returned state. One invocation per path
// is in flight at any time; that guarantee belongs to the caller, so
// the core spawns no goroutines and takes no locks around state.
//
// Built-in actions (create, start, stop, update, delete,
// check-readiness) map onto the Lifecycle interface. Entity types may
// declare additional custom actions; dispatch is an exact-match table
// lookup and an unknown action fails with an unsupported-action error
// before any hook or handler runs, leaving state untouched.
//
// Create and Update return as soon as the provider has accepted the
// request. Reaching readiness is confirmed asynchronously: the
// orchestrator re-invokes check-readiness under the per-type Readiness
// policy, which the Poller implements.
package entity

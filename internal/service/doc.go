// Package service implements the polling core of plcmesh.
//
// This package coordinates the backend, the identity map and the
// presentation layer, and owns every piece of mutable mesh state.
//
// # Components
//
// IdentityRegistry assigns each adapter a stable index and persists the map
// through a repository.IdentityStore. Indices are never reused.
//
// PresenceTracker maintains the online set. A MAC missing from one discovery
// is only dropped after a confirming second discovery also misses it, and the
// set is replaced in one step so readers never see a half-updated cycle.
//
// MeshAggregator polls every online adapter for peer rates and discover
// lists, keeps the directed link table and the station details, and notifies
// per-adapter listeners when details change. A failing adapter never stops
// the others from being polled.
//
// Poller runs both cycles on phase-offset timers with a bounded worker pool.
// Every backend call goes through the shared scheduler, so cycles overlap in
// time but never on the wire.
//
// Topology is the read-only facade used by the HTTP layer and exports.
//
// # Event System
//
// Components publish events on an EventBus (presence transitions, identity
// assignments, detail refreshes, link updates, restarts, config reloads). The
// hub package relays them to browsers over server-sent events.
package service

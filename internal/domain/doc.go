// Package domain defines the core types of the powerline mesh model.
//
// # Core Types
//
// AdapterID is the canonical key of a powerline adapter: its MAC address in
// lowercase, colon-separated hexadecimal form. Every map and comparison in
// the module uses this form.
//
// AdapterRecord is the presentation view of one adapter: what discovery said
// about it (interface, HFID) plus the station details that peers report
// about it (TEI, SNID, coordinator roles, signal level).
//
// MeshLink is a directed rate observation made by one adapter about a peer.
// Links are created when first reported and refreshed afterwards; they are
// never removed, so consumers judge staleness from LastSeen.
//
// Topology is the derived node/edge view used for export.
//
// # Design Principles
//
// - No database or transport dependencies
// - Value types that are safe to copy into snapshots
package domain

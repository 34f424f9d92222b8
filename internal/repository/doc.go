// Package repository defines the persistence interfaces for plcmesh.
//
// The only durable state is the adapter identity map: each adapter MAC and
// the small integer index it was assigned, plus the highest index handed out
// so far. Two stores implement IdentityStore: the configuration file (see
// the config package) and the sqlite subpackage.
//
// Stores persist exactly what they are given. Canonicalization and
// validation of the map happen in the identity registry on load.
package repository

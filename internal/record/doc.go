// Package record defines the mutation record model shared by the store, the
// sync engine and the outbox.
//
// A MutationRecord is one pending create waiting for the remote store. Records
// live in named collections; a collection may declare a parent collection,
// in which case its records carry the local id of a parent record and cannot
// be submitted before that parent has a remote id.
//
// # Identity
//
// Record ids are UUIDv7: a 48-bit millisecond timestamp followed by random
// bits. Two devices never collide, ids sort by creation time, and the id is
// reused verbatim as the idempotency key on the remote side.
//
// # Payloads
//
// Payloads are opaque JSON. The engine touches exactly one field: the
// collection's parent field, which it sets to the parent's remote id right
// before submission (see SetField). Canonical encoding (sorted keys, NFC
// strings, no HTML escaping) is used only for fingerprints, never for the
// stored bytes.
//
// # Dependency graph
//
// Graph orders collections so that parents always drain before their
// dependents. Levels groups collections of equal depth; collections in the
// same level never reference each other and may drain concurrently.
package record

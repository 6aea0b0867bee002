// Package outbox is the caller-facing API of ferry.
//
// Collaborators call Enqueue to record a write; it lands in the local store
// as an unsynced record and returns the record's local id without touching
// the network. Run keeps the connectivity sources and the sync loop going;
// every Offline->Online edge, background wake and TriggerSync call drains
// the queue into the remote store in dependency order.
//
// A dependent record names its parent by local id. The engine defers it
// until the parent has a remote id and then writes that id into the
// payload's parent field before submitting.
//
// Write-path errors (invalid payload, unknown parent, storage failure) are
// returned by Enqueue. Sync failures never are: they live in record state
// (attempts, last error, needs-review) and in the pass report.
package outbox

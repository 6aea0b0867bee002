// Package remote defines the Remote Submission Adapter contract and its
// implementations.
//
// An Adapter creates one record in the remote authoritative store. The
// idempotency key is the record's local id; an adapter must treat it as a
// deduplication token so a record submitted twice (for example after a crash
// between remote success and the local MarkSynced) yields one remote row and
// the same remote id.
//
// HTTPAdapter speaks the JSON protocol of the remote service. Memory is an
// in-process adapter used by tests, the scenario harness, and dry runs.
package remote

// Package engine implements the sync orchestrator that drains the local
// mutation queue against the remote store.
//
// ARCHITECTURE:
//
// Idle -> Draining -> Idle.
// A pass is started by SyncNow, either directly or from the Run loop, which
// reacts to startup, Offline->Online edges, background wake ticks and manual
// triggers. A pass is skipped (not queued) when:
//   - the monitor reports Offline
//   - another pass is in flight in this process (atomic guard)
//   - another process holds the store lease
//
// Pass Flow:
//  1. Acquire the in-process guard, then the store lease (holder id + TTL)
//  2. Walk the collection graph level by level; parents drain before dependents
//  3. Collections in one level drain concurrently; records in one collection
//     drain one at a time in timestamp order
//  4. A dependent's parent id is translated through the id map and written
//     into the payload; an unresolved parent defers the record
//  5. Success marks the record synced; failure schedules a retry with bounded
//     exponential backoff, or parks the record in needs-review
//  6. Renew the lease between levels, release it at the end, persist the
//     report, prune old synced records
//
// ERROR HANDLING:
//
// A pass never returns an error. Per-record failures are recorded on the
// record and in the Report; storage failures are logged and counted.
package engine

// Package store provides SQLite-backed durable storage for the mutation queue.
//
// Tables:
//   - collections: registry of declared collections and their parent links
//   - mutations: one row per MutationRecord, keyed by (collection, id)
//   - settings: small key/value process state (last sync time, last report)
//   - id_map: local id -> remote id, written in the same transaction as MarkSynced
//   - sync_leases: leased lock that keeps two processes from draining at once
//
// # Schema evolution
//
// The schema is versioned with PRAGMA user_version. Each step under
// migrations/ runs in its own transaction and is additive only: tables and
// indexes are created, columns are added, nothing holding records is ever
// dropped or recreated. A failing step rolls back and returns
// *SchemaUpgradeError with the database still at the previous version. A
// database newer than this binary is refused untouched.
//
// # Invariants
//
//   - synced moves 0 -> 1 exactly once; MarkSynced is idempotent
//   - GetUnsynced and GetDue never return a synced record
//   - only ClearAll and PruneSynced delete records
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: mutations.collection must be registered
//
// Time arguments are stored as epoch milliseconds.
package store

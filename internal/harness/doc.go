// Package harness runs scripted outbox scenarios and checks their traces.
//
// A scenario drives a real Outbox, sync engine and SQLite store against an
// in-memory remote. The clock is manual, ids are sequential, backoff has no
// jitter and remote ids are derived from scenario refs, so every run of a
// scenario yields the same trace. Traces can be compared against golden
// files.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	max_attempts: 2              # optional retry budget
//	collections:                 # optional, defaults to the field client graph
//	  - name: leads
//	  - name: notes
//	    parent: leads
//	    parent_field: leadId
//	steps:
//	  - enqueue:
//	      ref: lead
//	      collection: leads
//	      payload: { name: Acme }
//	  - enqueue:
//	      ref: note
//	      collection: notes
//	      parent: lead
//	      payload: { text: hi }
//	  - fail: { ref: lead, status: 503, times: 1 }
//	  - online: true
//	  - sync: true
//	  - advance: 5s
//	  - expect_pending: 1
//	  - retry_review: lead
//	assertions:
//	  - type: submit_order
//	    refs: [lead, note]
//	  - type: parent_resolved
//	    ref: note
//
// Each step sets exactly one action. Assertion types are pending, synced,
// unsynced, needs_review, attempts, submit_order, submit_count and
// parent_resolved.
package harness

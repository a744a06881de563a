// Package pipeline implements the task state machine: claim, draft, skip,
// submit, approve, and reject transitions, plus auto-claim over batch queues.
// Roster and role checks happen here; atomicity is delegated to the store's
// conditional writes so that concurrent claimants resolve through row counts.
package pipeline

// Package store provides durable persistence for chatseam.
//
// Conversations and messages are the system of record: live events and cached
// chunks are disposable and can always be rebuilt from this store. The SQLite
// implementation enforces the two invariants everything else relies on:
//
//   - at most one conversation per (project, visitor) pair, via a unique index
//   - at most one message per relay-target external id, via a partial unique
//     index — the reconciler's idempotency key
//
// Message ordering within a conversation is (created_at, seq), where seq is
// the insertion rowid. Arrival order at any consumer is irrelevant.
//
// A MockStore is provided for tests that do not want a real database.
package store

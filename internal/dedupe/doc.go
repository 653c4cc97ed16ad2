// Package dedupe provides a TTL cache of already-processed relay message ids.
// It is an optimization only: idempotency is guaranteed by the store's unique
// external-message-id index, not by this cache.
package dedupe

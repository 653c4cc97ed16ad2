// ABOUTME: In-memory Bus implementation with the same TTL and cursor semantics
// ABOUTME: Used by tests and redis-less development runs

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type partition struct {
	events       []Event
	lastActivity time.Time
}

// MemoryBus is an in-process Bus implementation. It mirrors RedisBus
// semantics: per-conversation partitions, microsecond ordering keys, pruning
// on publish, and whole-partition expiry after the TTL.
type MemoryBus struct {
	mu         sync.Mutex
	partitions map[string]*partition
	ttl        time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewMemoryBus creates an in-memory bus with the given event TTL.
func NewMemoryBus(ttl time.Duration) *MemoryBus {
	return &MemoryBus{
		partitions: make(map[string]*partition),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Publish appends an event and prunes the partition's expired tail.
func (b *MemoryBus) Publish(ctx context.Context, conversationID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.expireIdleLocked(now)

	p, ok := b.partitions[conversationID]
	if !ok {
		p = &partition{}
		b.partitions[conversationID] = p
	}

	key := now.UnixMicro()
	if n := len(p.events); n > 0 {
		key = bumpKey(key, p.events[n-1].PublishedAt)
	}

	p.events = append(p.events, Event{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Payload:        append([]byte(nil), payload...),
		PublishedAt:    key,
	})
	p.lastActivity = now

	cutoff := now.Add(-b.ttl).UnixMicro()
	i := 0
	for i < len(p.events) && p.events[i].PublishedAt < cutoff {
		i++
	}
	p.events = p.events[i:]

	return nil
}

// Poll returns events with key strictly greater than after, ascending.
func (b *MemoryBus) Poll(ctx context.Context, conversationID string, after int64) ([]Event, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireIdleLocked(b.now())

	p, ok := b.partitions[conversationID]
	if !ok {
		return nil, after, nil
	}

	var events []Event
	maxKey := after
	for _, e := range p.events {
		if e.PublishedAt > after {
			events = append(events, e)
			if e.PublishedAt > maxKey {
				maxKey = e.PublishedAt
			}
		}
	}

	return events, maxKey, nil
}

// expireIdleLocked drops partitions with no activity inside the TTL window.
// Must be called with mu held.
func (b *MemoryBus) expireIdleLocked(now time.Time) {
	for id, p := range b.partitions {
		if now.Sub(p.lastActivity) > b.ttl {
			delete(b.partitions, id)
		}
	}
}

// Close drops all partitions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partitions = make(map[string]*partition)
	return nil
}

var _ Bus = (*MemoryBus)(nil)

// ABOUTME: Redis-backed event bus using one sorted set per conversation
// ABOUTME: Score is publish time in unix microseconds; keys expire after the TTL

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chatseam:events:"

// RedisBus implements Bus on a Redis sorted set per conversation.
// Redis has no durable subscribe primitive for this shape of consumer, so
// readers poll; the sorted-set score doubles as the resume cursor.
type RedisBus struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBus creates a bus on the given client. Events expire after ttl;
// idle partitions expire entirely so quiet conversations hold no state.
func NewRedisBus(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "bus"),
	}
}

// publishScript inserts an event with a strictly monotonic score, prunes the
// expired tail, and refreshes the key TTL in one atomic step. The score bump
// mirrors bumpKey: without it, two same-microsecond publishes would share a
// score and a subscriber polling between them would skip the second under the
// exclusive cursor range.
var publishScript = redis.NewScript(`
local score = tonumber(ARGV[1])
local last = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
if last[2] and tonumber(last[2]) >= score then
	score = tonumber(last[2]) + 1
end
redis.call('ZADD', KEYS[1], score, ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return score
`)

// Publish appends an event and atomically prunes the partition's expired tail.
// The sorted-set score, not the marshaled timestamp, is the authoritative
// ordering key; Poll reads it back from the score.
func (b *RedisBus) Publish(ctx context.Context, conversationID string, payload []byte) error {
	now := time.Now()
	event := Event{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Payload:        payload,
		PublishedAt:    now.UnixMicro(),
	}

	member, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	key := keyPrefix + conversationID
	cutoff := now.Add(-b.ttl).UnixMicro()

	score, err := publishScript.Run(ctx, b.client, []string{key},
		event.PublishedAt, cutoff, b.ttl.Milliseconds(), member).Int64()
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	b.logger.Debug("published event",
		"conversation_id", conversationID,
		"event_id", event.ID,
		"published_at", score)
	return nil
}

// Poll returns events with score strictly greater than after, ascending.
// Malformed members are dropped, not fatal.
func (b *RedisBus) Poll(ctx context.Context, conversationID string, after int64) ([]Event, int64, error) {
	key := keyPrefix + conversationID

	members, err := b.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, after, fmt.Errorf("polling events: %w", err)
	}

	events := make([]Event, 0, len(members))
	maxKey := after
	for _, z := range members {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			b.logger.Warn("dropping malformed event",
				"conversation_id", conversationID,
				"error", err)
			continue
		}
		// The score is authoritative: publish may have bumped it past the
		// marshal-time timestamp.
		event.PublishedAt = int64(z.Score)
		events = append(events, event)
		if event.PublishedAt > maxKey {
			maxKey = event.PublishedAt
		}
	}

	return events, maxKey, nil
}

// Close releases the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)

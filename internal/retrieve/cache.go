// ABOUTME: Redis-backed chunk cache storing one JSON blob per project
// ABOUTME: Malformed or missing entries are cache misses, never errors

package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const chunkKeyPrefix = "chatseam:chunks:"

// RedisChunkCache implements ChunkStore on a single Redis value per project.
// Generations are replaced wholesale; the previous one is invalidated by the
// TTL, not explicit deletion.
type RedisChunkCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisChunkCache creates a chunk cache with the given generation TTL.
func NewRedisChunkCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisChunkCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChunkCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "chunk_cache"),
	}
}

// GetChunks returns the project's current chunk generation. A missing key or
// a corrupt entry both read as an empty cache.
func (c *RedisChunkCache) GetChunks(ctx context.Context, projectID string) ([]Chunk, error) {
	data, err := c.client.Get(ctx, chunkKeyPrefix+projectID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk cache: %w", err)
	}

	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		// Corrupt cache entry: treat as a miss so the next crawl recomputes.
		c.logger.Warn("corrupt chunk cache entry, treating as miss",
			"project_id", projectID,
			"error", err)
		return nil, nil
	}
	return chunks, nil
}

// PutChunks replaces the project's chunk generation.
func (c *RedisChunkCache) PutChunks(ctx context.Context, projectID string, chunks []Chunk) error {
	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshaling chunks: %w", err)
	}

	if err := c.client.Set(ctx, chunkKeyPrefix+projectID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing chunk cache: %w", err)
	}
	return nil
}

var _ ChunkStore = (*RedisChunkCache)(nil)

// MemoryChunkCache is an in-process ChunkStore for tests and redis-less runs.
type MemoryChunkCache struct {
	mu     sync.RWMutex
	chunks map[string][]Chunk
}

// NewMemoryChunkCache creates an empty in-memory chunk cache.
func NewMemoryChunkCache() *MemoryChunkCache {
	return &MemoryChunkCache{chunks: make(map[string][]Chunk)}
}

// GetChunks returns the stored generation for a project.
func (c *MemoryChunkCache) GetChunks(ctx context.Context, projectID string) ([]Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Chunk(nil), c.chunks[projectID]...), nil
}

// PutChunks replaces the stored generation for a project.
func (c *MemoryChunkCache) PutChunks(ctx context.Context, projectID string, chunks []Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[projectID] = append([]Chunk(nil), chunks...)
	return nil
}

var _ ChunkStore = (*MemoryChunkCache)(nil)

// Package cache stores embedding vectors in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "docvec:emb:"

// RedisCache implements service.EmbeddingCache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// NewClient parses url and checks the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Key returns the cache key for a model, its output dimensions and the
// cleaned text.
func Key(model string, dims int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + model + ":" + strconv.Itoa(dims) + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, model string, dims int, text string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, Key(model, dims, text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached embedding: %w", err)
	}

	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, model string, dims int, text string, vector []float32) error {
	if err := c.client.Set(ctx, Key(model, dims, text), encodeVector(vector), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached embedding of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

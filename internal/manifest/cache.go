package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relsync/relsync/internal/table"
)

const metadataCacheKey = "relsync:manifest-metadata"

// CacheConfig holds the settings for the Redis metadata cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CachedSource wraps a Source with a Redis cache for the metadata listing,
// which external stores typically serve slowly and callers hit once per
// table. Downloads always go to the underlying source.
type CachedSource struct {
	source Source
	client *redis.Client
	ttl    time.Duration
}

func NewCachedSource(ctx context.Context, source Source, cfg CacheConfig) (*CachedSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{source: source, client: client, ttl: ttl}, nil
}

func (c *CachedSource) Close() error {
	return c.client.Close()
}

func (c *CachedSource) Metadata(ctx context.Context) ([]Metadata, error) {
	cached, err := c.client.Get(ctx, metadataCacheKey).Bytes()
	if err == nil {
		var metadata []Metadata
		if err := json.Unmarshal(cached, &metadata); err == nil {
			return metadata, nil
		}
		// corrupt cache entry, fall through to the source
	}

	metadata, err := c.source.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(metadata); err == nil {
		c.client.Set(ctx, metadataCacheKey, payload, c.ttl)
	}
	return metadata, nil
}

func (c *CachedSource) ManifestIDs(ctx context.Context, tableName string) ([]string, error) {
	metadata, err := c.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return idsForTable(metadata, tableName), nil
}

func (c *CachedSource) DownloadManifest(ctx context.Context, manifestID string) (table.Table, error) {
	return c.source.DownloadManifest(ctx, manifestID)
}

// Invalidate drops the cached metadata listing.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, metadataCacheKey).Err()
}

// Package cache holds the process wide caches: the schema sanity check
// and the form cache used by the submission pipeline.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"formio-api/internal/apperr"
	"formio-api/internal/model"
	"formio-api/internal/repository"
)

// SchemaKey names the schema lock record.
const SchemaKey = "formio"

// SchemaCheckTTL is the width of one check bucket.
const SchemaCheckTTL = 10 * time.Second

// SchemaReader reads the schema lock record.
type SchemaReader interface {
	Get(ctx context.Context, key string) (*model.SchemaLock, error)
}

// SchemaCheckCache answers "is the database schema usable" for every
// request, hitting storage at most once per time bucket while healthy.
type SchemaCheckCache struct {
	repo    SchemaReader
	version string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	healthy bool
	bucket  int64
}

// NewSchemaCheckCache builds the cache. now may be nil for the wall clock.
func NewSchemaCheckCache(repo SchemaReader, version string, now func() time.Time) *SchemaCheckCache {
	if now == nil {
		now = time.Now
	}
	return &SchemaCheckCache{repo: repo, version: version, ttl: SchemaCheckTTL, now: now}
}

// Check returns nil when the schema matches the code's version, 503 while
// a migration holds the lock and 500 on a version mismatch.
func (c *SchemaCheckCache) Check(ctx context.Context) error {
	bucket := c.now().UnixNano() / int64(c.ttl)

	c.mu.Lock()
	if c.healthy && c.bucket == bucket {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	lock, err := c.repo.Get(ctx, SchemaKey)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Unavailable("Database schema is not initialized")
	}
	if err != nil {
		return fmt.Errorf("read schema lock: %w", err)
	}
	if lock.Locked {
		return apperr.Unavailable("Database schema is being updated")
	}
	if lock.Version != c.version {
		return apperr.New(http.StatusInternalServerError, "Database schema version %s does not match %s", lock.Version, c.version)
	}

	c.mu.Lock()
	c.healthy, c.bucket = true, bucket
	c.mu.Unlock()
	return nil
}

// Invalidate forgets the cached result, e.g. when an update starts.
func (c *SchemaCheckCache) Invalidate() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/repository"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// FormCache stores forms by id.
type FormCache interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Form, bool)
	Set(ctx context.Context, form *model.Form)
	Delete(ctx context.Context, id uuid.UUID)
}

func cloneForm(f *model.Form) *model.Form {
	out := *f
	out.Components = append([]byte(nil), f.Components...)
	out.Settings = model.CloneMap(f.Settings)
	return &out
}

type memoryEntry struct {
	form    *model.Form
	expires time.Time
}

type memoryFormCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryFormCache keeps forms in process for ttl.
func NewMemoryFormCache(ttl time.Duration, now func() time.Time) FormCache {
	if now == nil {
		now = time.Now
	}
	return &memoryFormCache{ttl: ttl, now: now}
}

func (c *memoryFormCache) Get(_ context.Context, id uuid.UUID) (*model.Form, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return nil, false
	}
	e := v.(memoryEntry)
	if c.now().After(e.expires) {
		c.entries.Delete(id)
		return nil, false
	}
	return cloneForm(e.form), true
}

func (c *memoryFormCache) Set(_ context.Context, form *model.Form) {
	c.entries.Store(form.ID, memoryEntry{form: cloneForm(form), expires: c.now().Add(c.ttl)})
}

func (c *memoryFormCache) Delete(_ context.Context, id uuid.UUID) {
	c.entries.Delete(id)
}

type redisFormCache struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
	log    *logger.Logger
}

// NewRedisFormCache connects to addr and checks the connection.
func NewRedisFormCache(addr string, ttl time.Duration, log *logger.Logger) (FormCache, *goredis.Client, error) {
	if addr == "" {
		return nil, nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFormCacheWithClient(rdb, ttl, log), rdb, nil
}

func NewRedisFormCacheWithClient(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) FormCache {
	if log == nil {
		log = logger.Nop()
	}
	return &redisFormCache{rdb: rdb, ttl: ttl, prefix: "formio:form:", log: log.With("service", "RedisFormCache")}
}

func (c *redisFormCache) key(id uuid.UUID) string { return c.prefix + id.String() }

func (c *redisFormCache) Get(ctx context.Context, id uuid.UUID) (*model.Form, bool) {
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("form cache read failed", "form_id", id.String(), "error", err)
		return nil, false
	}
	var form model.Form
	if err := json.Unmarshal(raw, &form); err != nil {
		c.log.Warn("bad cached form", "form_id", id.String(), "error", err)
		return nil, false
	}
	return &form, true
}

func (c *redisFormCache) Set(ctx context.Context, form *model.Form) {
	raw, err := json.Marshal(form)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(form.ID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("form cache write failed", "form_id", form.ID.String(), "error", err)
	}
}

func (c *redisFormCache) Delete(ctx context.Context, id uuid.UUID) {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		c.log.Warn("form cache delete failed", "form_id", id.String(), "error", err)
	}
}

// Forms reads forms through a FormCache.
type Forms struct {
	repo  repository.FormRepository
	cache FormCache
}

func NewForms(repo repository.FormRepository, cache FormCache) *Forms {
	return &Forms{repo: repo, cache: cache}
}

func (f *Forms) FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error) {
	if form, ok := f.cache.Get(ctx, id); ok {
		return form, nil
	}
	form, err := f.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.cache.Set(ctx, form)
	return form, nil
}

func (f *Forms) FindByName(ctx context.Context, name string) (*model.Form, error) {
	return f.repo.FindByName(ctx, name)
}

// Invalidate drops a form after it changed.
func (f *Forms) Invalidate(ctx context.Context, id uuid.UUID) {
	f.cache.Delete(ctx, id)
}

package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"formio-api/internal/apperr"
	"formio-api/internal/model"
	"formio-api/internal/repository/memory"

	"github.com/google/uuid"
)

type countingReader struct {
	lock  *model.SchemaLock
	calls int
}

func (r *countingReader) Get(context.Context, string) (*model.SchemaLock, error) {
	r.calls++
	out := *r.lock
	return &out, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestSchemaCheckCachesHealthyResultPerBucket(t *testing.T) {
	reader := &countingReader{lock: &model.SchemaLock{Key: SchemaKey, Version: "1.0.0"}}
	clk := &clock{t: time.Unix(1000, 0)}
	c := NewSchemaCheckCache(reader, "1.0.0", clk.now)

	for i := 0; i < 3; i++ {
		if err := c.Check(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if reader.calls != 1 {
		t.Fatalf("reads within one bucket: want=1 got=%d", reader.calls)
	}

	clk.t = clk.t.Add(SchemaCheckTTL)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if reader.calls != 2 {
		t.Fatalf("reads after bucket rollover: want=2 got=%d", reader.calls)
	}
}

func TestSchemaCheckLockedIsUnavailable(t *testing.T) {
	reader := &countingReader{lock: &model.SchemaLock{Key: SchemaKey, Version: "1.0.0", Locked: true}}
	c := NewSchemaCheckCache(reader, "1.0.0", nil)

	err := c.Check(context.Background())
	if status, _ := apperr.StatusOf(err); status != http.StatusServiceUnavailable {
		t.Fatalf("status: want=%d got=%d (%v)", http.StatusServiceUnavailable, status, err)
	}

	// Unhealthy results are not cached.
	reader.lock.Locked = false
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("check after unlock: %v", err)
	}
}

func TestSchemaCheckVersionMismatch(t *testing.T) {
	reader := &countingReader{lock: &model.SchemaLock{Key: SchemaKey, Version: "0.9.0"}}
	c := NewSchemaCheckCache(reader, "1.0.0", nil)

	err := c.Check(context.Background())
	status, ok := apperr.StatusOf(err)
	if !ok || status != http.StatusInternalServerError {
		t.Fatalf("status: want=500 got=%d (%v)", status, err)
	}
}

func TestSchemaCheckInvalidate(t *testing.T) {
	reader := &countingReader{lock: &model.SchemaLock{Key: SchemaKey, Version: "1.0.0"}}
	clk := &clock{t: time.Unix(1000, 0)}
	c := NewSchemaCheckCache(reader, "1.0.0", clk.now)

	_ = c.Check(context.Background())
	c.Invalidate()
	reader.lock.Locked = true
	if err := c.Check(context.Background()); err == nil {
		t.Fatalf("invalidated cache must re-read the lock")
	}
}

func TestMemoryFormCacheExpires(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	c := NewMemoryFormCache(time.Minute, clk.now)
	form := &model.Form{ID: uuid.New(), Name: "user", Components: []byte(`[]`)}
	c.Set(context.Background(), form)

	got, ok := c.Get(context.Background(), form.ID)
	if !ok || got.Name != "user" {
		t.Fatalf("get: want=user got=%v ok=%v", got, ok)
	}
	got.Name = "changed"
	again, _ := c.Get(context.Background(), form.ID)
	if again.Name != "user" {
		t.Fatalf("cached form must not alias callers: got=%s", again.Name)
	}

	clk.t = clk.t.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), form.ID); ok {
		t.Fatalf("entry must expire after ttl")
	}
}

func TestFormsReadsThroughAndInvalidates(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	form := &model.Form{Title: "User", Name: "user", Path: "user", Type: model.FormTypeResource, Components: []byte(`[]`)}
	if err := store.Forms().Create(ctx, form); err != nil {
		t.Fatalf("create form: %v", err)
	}
	forms := NewForms(store.Forms(), NewMemoryFormCache(time.Minute, nil))

	if _, err := forms.FindByID(ctx, form.ID); err != nil {
		t.Fatalf("find: %v", err)
	}
	form.Title = "Account"
	if err := store.Forms().Update(ctx, form); err != nil {
		t.Fatalf("update: %v", err)
	}
	cached, _ := forms.FindByID(ctx, form.ID)
	if cached.Title != "User" {
		t.Fatalf("cached title: want=User got=%s", cached.Title)
	}
	forms.Invalidate(ctx, form.ID)
	fresh, _ := forms.FindByID(ctx, form.ID)
	if fresh.Title != "Account" {
		t.Fatalf("title after invalidate: want=Account got=%s", fresh.Title)
	}
}

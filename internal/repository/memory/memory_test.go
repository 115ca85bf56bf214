package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"formio-api/internal/model"
	"formio-api/internal/repository"

	"github.com/google/uuid"
)

func seed(t *testing.T, repo repository.SubmissionRepository, formID uuid.UUID, data map[string]any) *model.Submission {
	t.Helper()
	sub := &model.Submission{FormID: formID, Data: data}
	if err := repo.Create(context.Background(), sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	return sub
}

func TestUniqueConflictKinds(t *testing.T) {
	ctx := context.Background()
	store := New()
	repo := store.Submissions()
	formID := uuid.New()
	first := seed(t, repo, formID, map[string]any{
		"email": "User@Example.com",
		"tags":  []any{"a", "b", "c"},
		"home":  map[string]any{"place_id": "p-1", "formatted_address": "x"},
		"age":   30,
	})

	cases := []struct {
		name  string
		query repository.UniqueQuery
		want  bool
	}{
		{"case insensitive", repository.UniqueQuery{Path: "email", Value: "user@example.COM", Kind: repository.UniqueCaseInsensitive}, true},
		{"array containment", repository.UniqueQuery{Path: "tags", Value: []any{"c", "a"}, Kind: repository.UniqueArray}, true},
		{"array missing element", repository.UniqueQuery{Path: "tags", Value: []any{"z"}, Kind: repository.UniqueArray}, false},
		{"place id", repository.UniqueQuery{Path: "home.place_id", Value: "p-1", Kind: repository.UniquePlace}, true},
		{"number equality", repository.UniqueQuery{Path: "age", Value: 30.0, Kind: repository.UniqueEqual}, true},
		{"number mismatch", repository.UniqueQuery{Path: "age", Value: 31, Kind: repository.UniqueEqual}, false},
	}
	for _, tc := range cases {
		tc.query.FormID = formID
		id, err := repo.FindUniqueConflict(ctx, tc.query)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := id != nil; got != tc.want {
			t.Fatalf("%s: want conflict=%v got=%v", tc.name, tc.want, got)
		}
		if id != nil && *id != first.ID {
			t.Fatalf("%s: conflict id: want=%s got=%s", tc.name, first.ID, *id)
		}
	}

	id, _ := repo.FindUniqueConflict(ctx, repository.UniqueQuery{
		FormID: formID, Path: "email", Value: "user@example.com",
		Kind: repository.UniqueCaseInsensitive, ExcludeID: &first.ID,
	})
	if id != nil {
		t.Fatalf("the submission itself must not conflict")
	}
}

func TestSoftDeleteHidesSubmission(t *testing.T) {
	ctx := context.Background()
	repo := New().Submissions()
	formID := uuid.New()
	sub := seed(t, repo, formID, map[string]any{"email": "a@b.co"})

	if err := repo.Delete(ctx, formID, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, formID, sub.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("deleted submission must be hidden, got=%v", err)
	}
	id, _ := repo.FindUniqueConflict(ctx, repository.UniqueQuery{FormID: formID, Path: "email", Value: "a@b.co", Kind: repository.UniqueCaseInsensitive})
	if id != nil {
		t.Fatalf("deleted submission must not count for uniqueness")
	}
}

func TestStoredDataIsIsolated(t *testing.T) {
	ctx := context.Background()
	repo := New().Submissions()
	formID := uuid.New()
	data := map[string]any{"nested": map[string]any{"v": 1}}
	sub := seed(t, repo, formID, data)

	data["nested"].(map[string]any)["v"] = 2
	got, err := repo.FindByID(ctx, formID, sub.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Data["nested"].(map[string]any)["v"] != 1.0 {
		t.Fatalf("stored data must not alias caller maps: %v", got.Data)
	}
}

func TestTxRollbackRestoresWrites(t *testing.T) {
	ctx := context.Background()
	store := New()
	repo := store.Submissions()
	formID := uuid.New()
	boom := errors.New("boom")

	err := store.TxManager().RunInTx(ctx, func(txCtx context.Context) error {
		seed(t, repo, formID, map[string]any{"a": 1})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got=%v", err)
	}
	_, total, _ := repo.List(ctx, repository.SubmissionQuery{FormID: formID})
	if total != 0 {
		t.Fatalf("rolled back write still visible: total=%d", total)
	}
}

func TestListFiltersSortAndPage(t *testing.T) {
	ctx := context.Background()
	repo := New().Submissions()
	formID := uuid.New()
	for _, name := range []string{"carol", "alice", "bob"} {
		seed(t, repo, formID, map[string]any{"name": name, "team": "x"})
	}
	seed(t, repo, formID, map[string]any{"name": "dave", "team": "y"})

	subs, total, err := repo.List(ctx, repository.SubmissionQuery{
		FormID:  formID,
		Filters: []repository.FieldFilter{{Path: "data.team", Value: "x"}},
		Sort:    "data.name",
		Skip:    1,
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(subs) != 1 || subs[0].Data["name"] != "bob" {
		t.Fatalf("page: total=%d subs=%v", total, subs)
	}
}

func TestNestedTxRollsBackOnlyItself(t *testing.T) {
	ctx := context.Background()
	store := New()
	repo := store.Submissions()
	tx := store.TxManager()
	formID := uuid.New()

	err := tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := repo.Create(txCtx, &model.Submission{FormID: formID, Data: map[string]any{"n": "outer"}}); err != nil {
			return err
		}
		inner := tx.RunInTx(txCtx, func(innerCtx context.Context) error {
			_ = repo.Create(innerCtx, &model.Submission{FormID: formID, Data: map[string]any{"n": "inner"}})
			return errors.New("inner failed")
		})
		if inner == nil {
			t.Fatalf("inner: want error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	subs, total, _ := repo.List(ctx, repository.SubmissionQuery{FormID: formID})
	if total != 1 || subs[0].Data["n"] != "outer" {
		t.Fatalf("after savepoint rollback: total=%d subs=%v", total, subs)
	}
}

func TestConcurrentTxDoNotClobber(t *testing.T) {
	ctx := context.Background()
	store := New()
	repo := store.Submissions()
	tx := store.TxManager()
	formID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tx.RunInTx(ctx, func(txCtx context.Context) error {
				_ = repo.Create(txCtx, &model.Submission{FormID: formID, Data: map[string]any{"i": i}})
				if i%2 == 1 {
					return errors.New("rollback")
				}
				return nil
			})
		}()
	}
	wg.Wait()
	if _, total, _ := repo.List(ctx, repository.SubmissionQuery{FormID: formID}); total != 10 {
		t.Fatalf("committed: want=10 got=%d", total)
	}
}

func TestSchemaLockAcquire(t *testing.T) {
	ctx := context.Background()
	repo := New().Schema()
	ok, err := repo.Acquire(ctx, "schema", "a", 0)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.Acquire(ctx, "schema", "b", 1e12); ok {
		t.Fatalf("second acquire must fail while locked")
	}
	if err := repo.Release(ctx, "schema", "v2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	lock, _ := repo.Get(ctx, "schema")
	if lock.Locked || lock.Version != "v2" {
		t.Fatalf("lock after release: %+v", lock)
	}
}

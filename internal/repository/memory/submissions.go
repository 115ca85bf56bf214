package memory

import (
	"context"
	"fmt"

	"formio-api/internal/model"
	"formio-api/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type submissionRepo struct{ s *Store }

func (r *submissionRepo) store(sub *model.Submission) {
	c := sub.Clone()
	c.Data = normalize(sub.Data)
	c.Metadata = normalize(sub.Metadata)
	if _, exists := r.s.submissions[c.ID]; !exists {
		r.s.order = append(r.s.order, c.ID)
	}
	r.s.submissions[c.ID] = c
}

func (r *submissionRepo) create(sub *model.Submission) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if _, exists := r.s.submissions[sub.ID]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint on submissions")
	}
	now := r.s.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Data == nil {
		sub.Data = map[string]any{}
	}
	r.store(sub)
	return nil
}

func (r *submissionRepo) Create(_ context.Context, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.create(sub)
}

func (r *submissionRepo) Update(_ context.Context, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub.UpdatedAt = r.s.now()
	r.store(sub)
	return nil
}

func (r *submissionRepo) Delete(_ context.Context, formID, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok || sub.FormID != formID || !live(sub.DeletedAt) {
		return repository.ErrNotFound
	}
	sub.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}
	return nil
}

func (r *submissionRepo) FindByID(_ context.Context, formID, id uuid.UUID) (*model.Submission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sub, ok := r.s.submissions[id]
	if !ok || sub.FormID != formID || !live(sub.DeletedAt) {
		return nil, repository.ErrNotFound
	}
	return sub.Clone(), nil
}

func (r *submissionRepo) FindByIDs(_ context.Context, formID uuid.UUID, ids []uuid.UUID) ([]model.Submission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Submission
	for _, id := range ids {
		if sub, ok := r.s.submissions[id]; ok && sub.FormID == formID && live(sub.DeletedAt) {
			out = append(out, *sub.Clone())
		}
	}
	return out, nil
}

// each visits live submissions of a form in insertion order.
func (r *submissionRepo) each(formID uuid.UUID, fn func(*model.Submission) bool) {
	for _, id := range r.s.order {
		sub := r.s.submissions[id]
		if sub == nil || sub.FormID != formID || !live(sub.DeletedAt) {
			continue
		}
		if !fn(sub) {
			return
		}
	}
}

func matchesAll(sub *model.Submission, filters []repository.FieldFilter) bool {
	for _, f := range filters {
		if !matchesFilter(sub, f) {
			return false
		}
	}
	return true
}

func (r *submissionRepo) FindOne(_ context.Context, formID uuid.UUID, filters []repository.FieldFilter) (*model.Submission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *model.Submission
	r.each(formID, func(sub *model.Submission) bool {
		if matchesAll(sub, filters) {
			found = sub.Clone()
			return false
		}
		return true
	})
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *submissionRepo) List(_ context.Context, q repository.SubmissionQuery) ([]model.Submission, int64, error) {
	r.s.mu.RLock()
	var all []model.Submission
	r.each(q.FormID, func(sub *model.Submission) bool {
		if q.Owner != nil && (sub.Owner == nil || *sub.Owner != *q.Owner) {
			return true
		}
		if matchesAll(sub, q.Filters) {
			all = append(all, *sub.Clone())
		}
		return true
	})
	r.s.mu.RUnlock()

	sortSubmissions(all, q.Sort)
	total := int64(len(all))
	return page(all, q.Skip, q.Limit), total, nil
}

func (r *submissionRepo) FindUniqueConflict(_ context.Context, q repository.UniqueQuery) (*uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *uuid.UUID
	r.each(q.FormID, func(sub *model.Submission) bool {
		if q.ExcludeID != nil && sub.ID == *q.ExcludeID {
			return true
		}
		if matchesUnique(sub, q) {
			id := sub.ID
			found = &id
			return false
		}
		return true
	})
	return found, nil
}

// LockKey is a no-op: every write already holds the store lock.
func (r *submissionRepo) LockKey(context.Context, string) error {
	return nil
}

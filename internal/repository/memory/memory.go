// Package memory is an in-process implementation of the repository
// interfaces. It keeps the soft-delete and uniqueness semantics of the
// postgres store and backs STORAGE=memory and the package tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store holds every collection behind one lock.
type Store struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	forms       map[uuid.UUID]*model.Form
	submissions map[uuid.UUID]*model.Submission
	order       []uuid.UUID
	actions     map[uuid.UUID]*model.Action
	roles       map[uuid.UUID]*model.Role
	locks       map[string]*model.SchemaLock
	now         func() time.Time
}

func New() *Store {
	return &Store{
		forms:       map[uuid.UUID]*model.Form{},
		submissions: map[uuid.UUID]*model.Submission{},
		actions:     map[uuid.UUID]*model.Action{},
		roles:       map[uuid.UUID]*model.Role{},
		locks:       map[string]*model.SchemaLock{},
		now:         time.Now,
	}
}

func (s *Store) Forms() repository.FormRepository             { return &formRepo{s} }
func (s *Store) Submissions() repository.SubmissionRepository { return &submissionRepo{s} }
func (s *Store) Actions() repository.ActionRepository         { return &actionRepo{s} }
func (s *Store) Roles() repository.RoleRepository             { return &roleRepo{s} }
func (s *Store) Schema() repository.SchemaRepository          { return &schemaRepo{s} }
func (s *Store) TxManager() repository.TransactionManager     { return &txManager{s} }

type snapshot struct {
	forms       map[uuid.UUID]*model.Form
	submissions map[uuid.UUID]*model.Submission
	order       []uuid.UUID
	actions     map[uuid.UUID]*model.Action
	roles       map[uuid.UUID]*model.Role
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		forms:       make(map[uuid.UUID]*model.Form, len(s.forms)),
		submissions: make(map[uuid.UUID]*model.Submission, len(s.submissions)),
		actions:     make(map[uuid.UUID]*model.Action, len(s.actions)),
		roles:       make(map[uuid.UUID]*model.Role, len(s.roles)),
		order:       append([]uuid.UUID(nil), s.order...),
	}
	for k, v := range s.forms {
		snap.forms[k] = cloneForm(v)
	}
	for k, v := range s.submissions {
		snap.submissions[k] = v.Clone()
	}
	for k, v := range s.actions {
		a := *v
		snap.actions[k] = &a
	}
	for k, v := range s.roles {
		r := *v
		snap.roles[k] = &r
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms = snap.forms
	s.submissions = snap.submissions
	s.order = snap.order
	s.actions = snap.actions
	s.roles = snap.roles
}

type txKey struct{}

// txManager restores a snapshot when fn fails. Top-level transactions run
// one at a time; a nested call acts as a savepoint. Writes made outside any
// transaction while one fails are rolled back with it.
type txManager struct{ s *Store }

func (t *txManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(txKey{}) == nil {
		t.s.txMu.Lock()
		defer t.s.txMu.Unlock()
		ctx = context.WithValue(ctx, txKey{}, true)
	}
	snap := t.s.snapshot()
	if err := fn(ctx); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

func live(deleted gorm.DeletedAt) bool { return !deleted.Valid }

func cloneForm(f *model.Form) *model.Form {
	out := *f
	out.Components = append([]byte(nil), f.Components...)
	out.Settings = model.CloneMap(f.Settings)
	return &out
}

// normalize round-trips data through JSON so stored values have the same
// shapes a database read would produce.
func normalize(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return model.CloneMap(m)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.CloneMap(m)
	}
	return out
}

// ---- forms ----

type formRepo struct{ s *Store }

func (r *formRepo) Create(_ context.Context, form *model.Form) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, f := range r.s.forms {
		if live(f.DeletedAt) && (f.Name == form.Name || f.Path == form.Path) {
			return fmt.Errorf("duplicate key value violates unique constraint on forms")
		}
	}
	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	now := r.s.now()
	form.CreatedAt, form.UpdatedAt = now, now
	r.s.forms[form.ID] = cloneForm(form)
	return nil
}

func (r *formRepo) Update(_ context.Context, form *model.Form) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	form.UpdatedAt = r.s.now()
	r.s.forms[form.ID] = cloneForm(form)
	return nil
}

func (r *formRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if f, ok := r.s.forms[id]; ok && live(f.DeletedAt) {
		f.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}
	}
	return nil
}

func (r *formRepo) find(match func(*model.Form) bool) (*model.Form, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, f := range r.s.forms {
		if live(f.DeletedAt) && match(f) {
			return cloneForm(f), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *formRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Form, error) {
	return r.find(func(f *model.Form) bool { return f.ID == id })
}

func (r *formRepo) FindByName(_ context.Context, name string) (*model.Form, error) {
	return r.find(func(f *model.Form) bool { return f.Name == name })
}

func (r *formRepo) FindByPath(_ context.Context, path string) (*model.Form, error) {
	return r.find(func(f *model.Form) bool { return f.Path == path })
}

func (r *formRepo) List(_ context.Context, q repository.FormQuery) ([]model.Form, int64, error) {
	r.s.mu.RLock()
	var all []model.Form
	for _, f := range r.s.forms {
		if live(f.DeletedAt) && (q.Type == "" || f.Type == q.Type) {
			all = append(all, *cloneForm(f))
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	total := int64(len(all))
	return page(all, q.Offset, q.Limit), total, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ---- actions ----

type actionRepo struct{ s *Store }

func (r *actionRepo) Create(_ context.Context, action *model.Action) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	now := r.s.now()
	action.CreatedAt, action.UpdatedAt = now, now
	a := *action
	r.s.actions[a.ID] = &a
	return nil
}

func (r *actionRepo) Update(_ context.Context, action *model.Action) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	action.UpdatedAt = r.s.now()
	a := *action
	r.s.actions[a.ID] = &a
	return nil
}

func (r *actionRepo) Delete(_ context.Context, formID, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.actions[id]; ok && a.FormID == formID {
		a.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}
	}
	return nil
}

func (r *actionRepo) FindByID(_ context.Context, formID, id uuid.UUID) (*model.Action, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.actions[id]
	if !ok || a.FormID != formID || !live(a.DeletedAt) {
		return nil, repository.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r *actionRepo) ListByForm(_ context.Context, formID uuid.UUID) ([]model.Action, error) {
	r.s.mu.RLock()
	var out []model.Action
	for _, a := range r.s.actions {
		if a.FormID == formID && live(a.DeletedAt) {
			out = append(out, *a)
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ---- roles ----

type roleRepo struct{ s *Store }

func (r *roleRepo) Create(_ context.Context, role *model.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.roles {
		if live(existing.DeletedAt) && existing.Title == role.Title {
			return fmt.Errorf("duplicate key value violates unique constraint on roles")
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := r.s.now()
	role.CreatedAt, role.UpdatedAt = now, now
	out := *role
	r.s.roles[out.ID] = &out
	return nil
}

func (r *roleRepo) Update(_ context.Context, role *model.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role.UpdatedAt = r.s.now()
	out := *role
	r.s.roles[out.ID] = &out
	return nil
}

func (r *roleRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if role, ok := r.s.roles[id]; ok {
		role.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}
	}
	return nil
}

func (r *roleRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[id]
	if !ok || !live(role.DeletedAt) {
		return nil, repository.ErrNotFound
	}
	out := *role
	return &out, nil
}

func (r *roleRepo) FindByTitle(_ context.Context, title string) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, role := range r.s.roles {
		if live(role.DeletedAt) && role.Title == title {
			out := *role
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *roleRepo) ListAll(_ context.Context) ([]model.Role, error) {
	r.s.mu.RLock()
	var out []model.Role
	for _, role := range r.s.roles {
		if live(role.DeletedAt) {
			out = append(out, *role)
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- schema lock ----

type schemaRepo struct{ s *Store }

func (r *schemaRepo) Get(_ context.Context, key string) (*model.SchemaLock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	lock, ok := r.s.locks[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *lock
	return &out, nil
}

func (r *schemaRepo) Acquire(_ context.Context, key, owner string, staleAfter time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lock, ok := r.s.locks[key]
	if !ok {
		lock = &model.SchemaLock{Key: key}
		r.s.locks[key] = lock
	}
	now := r.s.now()
	if lock.Locked && lock.LockedAt != nil && lock.LockedAt.After(now.Add(-staleAfter)) {
		return false, nil
	}
	lock.Locked, lock.LockedBy, lock.LockedAt, lock.UpdatedAt = true, owner, &now, now
	return true, nil
}

func (r *schemaRepo) Release(_ context.Context, key, version string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lock, ok := r.s.locks[key]
	if !ok {
		lock = &model.SchemaLock{Key: key}
		r.s.locks[key] = lock
	}
	lock.Locked, lock.LockedBy, lock.LockedAt, lock.Version, lock.UpdatedAt = false, "", nil, version, r.s.now()
	return nil
}

// textOf mirrors postgres #>> extraction: strings raw, everything else as JSON.
func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

func containsAll(stored, wanted any) bool {
	have, ok := stored.([]any)
	if !ok {
		return false
	}
	want, ok := normalizeValue(wanted).([]any)
	if !ok {
		return false
	}
	for _, w := range want {
		found := false
		for _, h := range have {
			if reflect.DeepEqual(h, w) || jsonEqual(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func matchesFilter(sub *model.Submission, f repository.FieldFilter) bool {
	switch f.Path {
	case "_id":
		return sub.ID.String() == fmt.Sprint(f.Value)
	case "owner":
		return sub.Owner != nil && sub.Owner.String() == fmt.Sprint(f.Value)
	}
	dataPath, ok := repository.DataPath(f.Path)
	if !ok {
		return false
	}
	stored, ok := component.Get(sub.Data, dataPath)
	if !ok {
		return false
	}
	if s, isString := f.Value.(string); isString {
		return textOf(stored) == s
	}
	return jsonEqual(stored, normalizeValue(f.Value))
}

func matchesUnique(sub *model.Submission, q repository.UniqueQuery) bool {
	stored, ok := component.Get(sub.Data, q.Path)
	if !ok {
		return false
	}
	switch q.Kind {
	case repository.UniqueCaseInsensitive, repository.UniqueCollation:
		s, isString := stored.(string)
		return isString && strings.EqualFold(s, fmt.Sprint(q.Value))
	case repository.UniquePlace:
		return textOf(stored) == fmt.Sprint(q.Value)
	case repository.UniqueArray:
		return containsAll(stored, q.Value)
	}
	return jsonEqual(stored, normalizeValue(q.Value))
}

func compareSubmissions(a, b *model.Submission, field string) int {
	switch field {
	case "created":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "modified":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
	dataPath, ok := repository.DataPath(field)
	if !ok {
		return 0
	}
	va, _ := component.Get(a.Data, dataPath)
	vb, _ := component.Get(b.Data, dataPath)
	return strings.Compare(textOf(va), textOf(vb))
}

// sortSubmissions expects subs in insertion order, which breaks ties.
func sortSubmissions(subs []model.Submission, order string) {
	fields := strings.Fields(order)
	if len(fields) == 0 {
		fields = []string{"-created"}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		for _, field := range fields {
			desc := strings.HasPrefix(field, "-")
			c := compareSubmissions(&subs[i], &subs[j], strings.TrimPrefix(field, "-"))
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"formio-api/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	Update(ctx context.Context, sub *model.Submission) error
	Delete(ctx context.Context, formID, id uuid.UUID) error
	FindByID(ctx context.Context, formID, id uuid.UUID) (*model.Submission, error)
	FindByIDs(ctx context.Context, formID uuid.UUID, ids []uuid.UUID) ([]model.Submission, error)
	FindOne(ctx context.Context, formID uuid.UUID, filters []FieldFilter) (*model.Submission, error)
	List(ctx context.Context, q SubmissionQuery) ([]model.Submission, int64, error)
	// FindUniqueConflict returns the id of a live submission matching q, or nil.
	FindUniqueConflict(ctx context.Context, q UniqueQuery) (*uuid.UUID, error)
	// LockKey serialises writers on key until the surrounding transaction ends.
	LockKey(ctx context.Context, key string) error
}

var collationName = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)

type submissionRepository struct {
	db        *gorm.DB
	collation string
}

// NewSubmissionRepository builds the postgres submission store. collation
// names a case-insensitive collation used for ASCII unique checks.
func NewSubmissionRepository(db *gorm.DB, collation string) SubmissionRepository {
	if !collationName.MatchString(collation) {
		collation = ""
	}
	return &submissionRepository{db: db, collation: collation}
}

func (r *submissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	return GetDB(ctx, r.db).Create(sub).Error
}

func (r *submissionRepository) Update(ctx context.Context, sub *model.Submission) error {
	return GetDB(ctx, r.db).Save(sub).Error
}

func (r *submissionRepository) Delete(ctx context.Context, formID, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Where("id = ? AND form_id = ?", id, formID).Delete(&model.Submission{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *submissionRepository) FindByID(ctx context.Context, formID, id uuid.UUID) (*model.Submission, error) {
	var sub model.Submission
	if err := GetDB(ctx, r.db).First(&sub, "id = ? AND form_id = ?", id, formID).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepository) FindByIDs(ctx context.Context, formID uuid.UUID, ids []uuid.UUID) ([]model.Submission, error) {
	var subs []model.Submission
	if len(ids) == 0 {
		return subs, nil
	}
	if err := GetDB(ctx, r.db).Where("form_id = ? AND id IN ?", formID, ids).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *submissionRepository) FindOne(ctx context.Context, formID uuid.UUID, filters []FieldFilter) (*model.Submission, error) {
	query, err := applyFilters(GetDB(ctx, r.db).Where("form_id = ?", formID), filters)
	if err != nil {
		return nil, err
	}
	var sub model.Submission
	if err := query.First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepository) List(ctx context.Context, q SubmissionQuery) ([]model.Submission, int64, error) {
	var subs []model.Submission
	var total int64

	query := GetDB(ctx, r.db).Model(&model.Submission{}).Where("form_id = ?", q.FormID)
	if q.Owner != nil {
		query = query.Where("owner = ?", *q.Owner)
	}
	query, err := applyFilters(query, q.Filters)
	if err != nil {
		return nil, 0, err
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applySort(query, q.Sort)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Skip > 0 {
		query = query.Offset(q.Skip)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

func (r *submissionRepository) FindUniqueConflict(ctx context.Context, q UniqueQuery) (*uuid.UUID, error) {
	query := GetDB(ctx, r.db).Model(&model.Submission{}).Select("id").Where("form_id = ?", q.FormID)
	if q.ExcludeID != nil {
		query = query.Where("id <> ?", *q.ExcludeID)
	}

	path := pgTextArray(q.Path)
	switch q.Kind {
	case UniqueCaseInsensitive:
		query = query.Where("lower(data #>> ?::text[]) = lower(?)", path, fmt.Sprint(q.Value))
	case UniqueCollation:
		if r.collation == "" {
			query = query.Where("lower(data #>> ?::text[]) = lower(?)", path, fmt.Sprint(q.Value))
		} else {
			query = query.Where(fmt.Sprintf(`(data #>> ?::text[]) COLLATE "%s" = ?`, r.collation), path, fmt.Sprint(q.Value))
		}
	case UniquePlace:
		query = query.Where("data #>> ?::text[] = ?", path, fmt.Sprint(q.Value))
	case UniqueArray:
		raw, err := json.Marshal(q.Value)
		if err != nil {
			return nil, fmt.Errorf("encode unique value: %w", err)
		}
		query = query.Where("data #> ?::text[] @> ?::jsonb", path, string(raw))
	default:
		raw, err := json.Marshal(q.Value)
		if err != nil {
			return nil, fmt.Errorf("encode unique value: %w", err)
		}
		query = query.Where("data #> ?::text[] = ?::jsonb", path, string(raw))
	}

	var row struct{ ID uuid.UUID }
	err := query.Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.ID, nil
}

func (r *submissionRepository) LockKey(ctx context.Context, key string) error {
	// An xact lock taken in autocommit is released at once.
	if !InTx(ctx) {
		return nil
	}
	return GetDB(ctx, r.db).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

func applyFilters(query *gorm.DB, filters []FieldFilter) (*gorm.DB, error) {
	for _, f := range filters {
		switch {
		case f.Path == "_id":
			id, err := uuid.Parse(fmt.Sprint(f.Value))
			if err != nil {
				return query.Where("1 = 0"), nil
			}
			query = query.Where("id = ?", id)
		case f.Path == "owner":
			query = query.Where("owner::text = ?", fmt.Sprint(f.Value))
		default:
			dataPath, ok := DataPath(f.Path)
			if !ok {
				return nil, fmt.Errorf("unsupported filter path %q", f.Path)
			}
			if s, isString := f.Value.(string); isString {
				query = query.Where("data #>> ?::text[] = ?", pgTextArray(dataPath), s)
				continue
			}
			raw, err := json.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("encode filter value: %w", err)
			}
			query = query.Where("data #> ?::text[] = ?::jsonb", pgTextArray(dataPath), string(raw))
		}
	}
	return query, nil
}

// Helper: maps form.io sort strings ("-created", "data.name") to ORDER BY.
func applySort(query *gorm.DB, sort string) *gorm.DB {
	if sort == "" {
		return query.Order("created_at desc")
	}
	for _, field := range strings.Fields(sort) {
		dir := " asc"
		if strings.HasPrefix(field, "-") {
			dir = " desc"
			field = strings.TrimPrefix(field, "-")
		}
		switch field {
		case "created":
			query = query.Order("created_at" + dir)
		case "modified":
			query = query.Order("updated_at" + dir)
		default:
			dataPath, ok := DataPath(field)
			if !ok {
				continue
			}
			query = query.Order(clause.OrderBy{Expression: clause.Expr{
				SQL:  "data #>> ?::text[]" + dir,
				Vars: []interface{}{pgTextArray(dataPath)},
			}})
		}
	}
	return query
}

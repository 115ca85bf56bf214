package repository

import (
	"context"

	"formio-api/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FormRepository interface {
	Create(ctx context.Context, form *model.Form) error
	Update(ctx context.Context, form *model.Form) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error)
	FindByName(ctx context.Context, name string) (*model.Form, error)
	FindByPath(ctx context.Context, path string) (*model.Form, error)
	List(ctx context.Context, q FormQuery) ([]model.Form, int64, error)
}

type formRepository struct {
	db *gorm.DB
}

func NewFormRepository(db *gorm.DB) FormRepository {
	return &formRepository{db: db}
}

func (r *formRepository) Create(ctx context.Context, form *model.Form) error {
	return GetDB(ctx, r.db).Create(form).Error
}

func (r *formRepository) Update(ctx context.Context, form *model.Form) error {
	return GetDB(ctx, r.db).Save(form).Error
}

func (r *formRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Form{}).Error
}

func (r *formRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error) {
	var form model.Form
	if err := GetDB(ctx, r.db).First(&form, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &form, nil
}

func (r *formRepository) FindByName(ctx context.Context, name string) (*model.Form, error) {
	var form model.Form
	if err := GetDB(ctx, r.db).Where("name = ?", name).First(&form).Error; err != nil {
		return nil, err
	}
	return &form, nil
}

func (r *formRepository) FindByPath(ctx context.Context, path string) (*model.Form, error) {
	var form model.Form
	if err := GetDB(ctx, r.db).Where("path = ?", path).First(&form).Error; err != nil {
		return nil, err
	}
	return &form, nil
}

func (r *formRepository) List(ctx context.Context, q FormQuery) ([]model.Form, int64, error) {
	var forms []model.Form
	var total int64

	query := GetDB(ctx, r.db).Model(&model.Form{})
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit).Offset(q.Offset)
	}
	if err := query.Order("created_at asc").Find(&forms).Error; err != nil {
		return nil, 0, err
	}
	return forms, total, nil
}

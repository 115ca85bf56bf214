package repository

import (
	"context"

	"formio-api/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActionRepository interface {
	Create(ctx context.Context, action *model.Action) error
	Update(ctx context.Context, action *model.Action) error
	Delete(ctx context.Context, formID, id uuid.UUID) error
	FindByID(ctx context.Context, formID, id uuid.UUID) (*model.Action, error)
	ListByForm(ctx context.Context, formID uuid.UUID) ([]model.Action, error)
}

type actionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) ActionRepository {
	return &actionRepository{db: db}
}

func (r *actionRepository) Create(ctx context.Context, action *model.Action) error {
	return GetDB(ctx, r.db).Create(action).Error
}

func (r *actionRepository) Update(ctx context.Context, action *model.Action) error {
	return GetDB(ctx, r.db).Save(action).Error
}

func (r *actionRepository) Delete(ctx context.Context, formID, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ? AND form_id = ?", id, formID).Delete(&model.Action{}).Error
}

func (r *actionRepository) FindByID(ctx context.Context, formID, id uuid.UUID) (*model.Action, error) {
	var action model.Action
	if err := GetDB(ctx, r.db).First(&action, "id = ? AND form_id = ?", id, formID).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

func (r *actionRepository) ListByForm(ctx context.Context, formID uuid.UUID) ([]model.Action, error) {
	var actions []model.Action
	if err := GetDB(ctx, r.db).Where("form_id = ?", formID).Order("priority desc, created_at asc").Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

package repository

import (
	"context"
	"time"

	"formio-api/internal/model"

	"gorm.io/gorm"
)

// SchemaRepository manages the schema_locks record guarding migrations.
type SchemaRepository interface {
	Get(ctx context.Context, key string) (*model.SchemaLock, error)
	// Acquire atomically flips the lock on. A lock older than staleAfter is
	// considered abandoned and can be taken over.
	Acquire(ctx context.Context, key, owner string, staleAfter time.Duration) (bool, error)
	Release(ctx context.Context, key, version string) error
}

type schemaRepository struct {
	db *gorm.DB
}

func NewSchemaRepository(db *gorm.DB) SchemaRepository {
	return &schemaRepository{db: db}
}

func (r *schemaRepository) Get(ctx context.Context, key string) (*model.SchemaLock, error) {
	var lock model.SchemaLock
	if err := GetDB(ctx, r.db).First(&lock, "key = ?", key).Error; err != nil {
		return nil, err
	}
	return &lock, nil
}

func (r *schemaRepository) Acquire(ctx context.Context, key, owner string, staleAfter time.Duration) (bool, error) {
	db := GetDB(ctx, r.db)
	if err := db.Where(model.SchemaLock{Key: key}).FirstOrCreate(&model.SchemaLock{Key: key}).Error; err != nil {
		return false, err
	}

	now := time.Now()
	res := db.Model(&model.SchemaLock{}).
		Where("key = ? AND (locked = ? OR locked_at < ?)", key, false, now.Add(-staleAfter)).
		Updates(map[string]interface{}{
			"locked":    true,
			"locked_by": owner,
			"locked_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *schemaRepository) Release(ctx context.Context, key, version string) error {
	return GetDB(ctx, r.db).Model(&model.SchemaLock{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"locked":    false,
			"locked_by": "",
			"locked_at": nil,
			"version":   version,
		}).Error
}

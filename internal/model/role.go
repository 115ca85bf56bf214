package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is assigned to principals and resource submissions.
type Role struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"_id"`
	Title       string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Admin       bool           `gorm:"default:false" json:"admin"`
	Default     bool           `gorm:"default:false" json:"default"`
	CreatedAt   time.Time      `json:"created"`
	UpdatedAt   time.Time      `json:"modified"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Action is a stored action instance attached to a form.
type Action struct {
	ID        uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"_id"`
	FormID    uuid.UUID                   `gorm:"type:uuid;not null;index" json:"form"`
	Name      string                      `gorm:"type:varchar(100);not null" json:"name"`
	Title     string                      `gorm:"type:varchar(255)" json:"title"`
	Handler   datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"handler"`
	Method    datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"method"`
	Priority  int                         `gorm:"not null;default:0" json:"priority"`
	Settings  datatypes.JSONMap           `gorm:"type:jsonb" json:"settings"`
	CreatedAt time.Time                   `json:"created"`
	UpdatedAt time.Time                   `json:"modified"`
	DeletedAt gorm.DeletedAt              `gorm:"index" json:"deleted"`
}

func (a *Action) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

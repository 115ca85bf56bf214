package model

import (
	"time"

	"formio-api/internal/component"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Form type constants
const (
	FormTypeForm     = "form"
	FormTypeResource = "resource"
)

// PermissionRule grants a permission type (e.g. "create_own") to roles.
type PermissionRule struct {
	Type  string   `json:"type"`
	Roles []string `json:"roles"`
}

// Form is a schema-defined data type that submissions are validated against.
type Form struct {
	ID                  uuid.UUID                           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"_id"`
	Title               string                              `gorm:"type:varchar(255);not null" json:"title"`
	Name                string                              `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Path                string                              `gorm:"type:varchar(255);uniqueIndex;not null" json:"path"`
	Type                string                              `gorm:"type:varchar(20);not null;default:'form'" json:"type"`
	Display             string                              `gorm:"type:varchar(20)" json:"display,omitempty"`
	Components          datatypes.JSON                      `gorm:"type:jsonb;not null;default:'[]'" json:"components"`
	Access              datatypes.JSONSlice[PermissionRule] `gorm:"type:jsonb" json:"access"`
	SubmissionAccess    datatypes.JSONSlice[PermissionRule] `gorm:"type:jsonb" json:"submissionAccess"`
	Settings            datatypes.JSONMap                   `gorm:"type:jsonb" json:"settings,omitempty"`
	SubmissionRevisions string                              `gorm:"type:varchar(20)" json:"submissionRevisions,omitempty"`
	Owner               *uuid.UUID                          `gorm:"type:uuid" json:"owner"`
	CreatedAt           time.Time                           `json:"created"`
	UpdatedAt           time.Time                           `json:"modified"`
	DeletedAt           gorm.DeletedAt                      `gorm:"index" json:"deleted"`
}

func (f *Form) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// ParseComponents decodes the stored schema into a fresh component tree.
// Callers may mutate the result.
func (f *Form) ParseComponents() ([]*component.Component, error) {
	return component.Parse(f.Components)
}

// RevisionsEnabled reports whether submission revision tracking is on.
func (f *Form) RevisionsEnabled() bool {
	return f.SubmissionRevisions != "" && f.SubmissionRevisions != "false"
}

// Permission returns the roles granted a permission type.
func (f *Form) Permission(permType string) []string {
	for _, rule := range f.SubmissionAccess {
		if rule.Type == permType {
			return rule.Roles
		}
	}
	return nil
}

package model

import (
	"encoding/json"
	"time"

	"formio-api/internal/component"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccessEntry grants per-submission access to roles or resources.
type AccessEntry struct {
	Type      string   `json:"type"`
	Roles     []string `json:"roles,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// ExternalID links a submission to a document created on its behalf.
type ExternalID struct {
	Type     string `json:"type"`
	Resource string `json:"resource,omitempty"`
	ID       string `json:"id"`
}

// Submission is one instance of data captured against a form.
type Submission struct {
	ID          uuid.UUID                        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"_id"`
	FormID      uuid.UUID                        `gorm:"type:uuid;not null;index" json:"form"`
	Owner       *uuid.UUID                       `gorm:"type:uuid;index" json:"owner"`
	Data        datatypes.JSONMap                `gorm:"type:jsonb;not null;default:'{}'" json:"data"`
	Metadata    datatypes.JSONMap                `gorm:"type:jsonb" json:"metadata,omitempty"`
	Roles       datatypes.JSONSlice[string]      `gorm:"type:jsonb" json:"roles"`
	Access      datatypes.JSONSlice[AccessEntry] `gorm:"type:jsonb" json:"access"`
	ExternalIDs datatypes.JSONSlice[ExternalID]  `gorm:"type:jsonb" json:"externalIds"`
	CreatedAt   time.Time                        `json:"created"`
	UpdatedAt   time.Time                        `json:"modified"`
	DeletedAt   gorm.DeletedAt                   `gorm:"index" json:"deleted"`
}

func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Document returns the submission as a plain JSON object, the shape
// clients see and send back.
func (s *Submission) Document() map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"_id": s.ID.String()}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]any{"_id": s.ID.String()}
	}
	return doc
}

// PublicDocument is Document without the values of secret components.
func (s *Submission) PublicDocument(comps []*component.Component) map[string]any {
	doc := s.Document()
	if data, ok := doc["data"].(map[string]any); ok {
		component.StripSecrets(comps, data)
	}
	return doc
}

// Clone deep-copies the submission so callers can mutate data freely.
func (s *Submission) Clone() *Submission {
	out := *s
	out.Data = CloneMap(s.Data)
	out.Metadata = CloneMap(s.Metadata)
	out.Roles = append(datatypes.JSONSlice[string](nil), s.Roles...)
	out.Access = append(datatypes.JSONSlice[AccessEntry](nil), s.Access...)
	out.ExternalIDs = append(datatypes.JSONSlice[ExternalID](nil), s.ExternalIDs...)
	if s.Owner != nil {
		owner := *s.Owner
		out.Owner = &owner
	}
	return &out
}

// HasRole reports whether the submission carries the role id.
func (s *Submission) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ExternalIDFor returns the linked id recorded for a resource, if any.
func (s *Submission) ExternalIDFor(idType, resource string) (string, bool) {
	for _, ext := range s.ExternalIDs {
		if ext.Type == idType && ext.Resource == resource {
			return ext.ID, true
		}
	}
	return "", false
}

// CloneMap deep-copies JSON-shaped data.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case datatypes.JSONMap:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = CloneValue(el)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

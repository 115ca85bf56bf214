package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"formio-api/internal/apperr"
	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var formNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// --- DTOs ---

type CreateFormRequest struct {
	Title               string                 `json:"title" binding:"required"`
	Name                string                 `json:"name" binding:"required"`
	Path                string                 `json:"path" binding:"required"`
	Type                string                 `json:"type" binding:"omitempty,oneof=form resource"`
	Display             string                 `json:"display"`
	Components          json.RawMessage        `json:"components"`
	Access              []model.PermissionRule `json:"access"`
	SubmissionAccess    []model.PermissionRule `json:"submissionAccess"`
	Settings            map[string]any         `json:"settings"`
	SubmissionRevisions string                 `json:"submissionRevisions"`
}

type UpdateFormRequest struct {
	Title               *string                 `json:"title"`
	Name                *string                 `json:"name"`
	Path                *string                 `json:"path"`
	Type                *string                 `json:"type" binding:"omitempty,oneof=form resource"`
	Display             *string                 `json:"display"`
	Components          json.RawMessage         `json:"components"`
	Access              *[]model.PermissionRule `json:"access"`
	SubmissionAccess    *[]model.PermissionRule `json:"submissionAccess"`
	Settings            map[string]any          `json:"settings"`
	SubmissionRevisions *string                 `json:"submissionRevisions"`
}

type FormListQuery struct {
	Type   string
	Offset int
	Limit  int
}

// --- Interface ---

type FormService interface {
	ListForms(ctx context.Context, q FormListQuery) ([]model.Form, int64, error)
	GetForm(ctx context.Context, id string) (*model.Form, error)
	CreateForm(ctx context.Context, principal *auth.Principal, req CreateFormRequest) (*model.Form, error)
	UpdateForm(ctx context.Context, id string, req UpdateFormRequest) (*model.Form, error)
	DeleteForm(ctx context.Context, id string) error
}

// FormInvalidator drops cached copies of a changed form.
type FormInvalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID)
}

type formService struct {
	repo  repository.FormRepository
	cache FormInvalidator
}

func NewFormService(repo repository.FormRepository, cache FormInvalidator) FormService {
	return &formService{repo: repo, cache: cache}
}

// --- Implementation ---

func (s *formService) ListForms(ctx context.Context, q FormListQuery) ([]model.Form, int64, error) {
	forms, total, err := s.repo.List(ctx, repository.FormQuery{Type: q.Type, Offset: q.Offset, Limit: q.Limit})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch forms: %w", err)
	}
	return forms, total, nil
}

func (s *formService) GetForm(ctx context.Context, id string) (*model.Form, error) {
	formID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.BadRequest("Invalid form id")
	}
	form, err := s.repo.FindByID(ctx, formID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Form not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form: %w", err)
	}
	return form, nil
}

func (s *formService) CreateForm(ctx context.Context, principal *auth.Principal, req CreateFormRequest) (*model.Form, error) {
	form := &model.Form{
		Title:               strings.TrimSpace(req.Title),
		Name:                strings.TrimSpace(req.Name),
		Path:                normalizePath(req.Path),
		Type:                req.Type,
		Display:             req.Display,
		Access:              req.Access,
		SubmissionAccess:    req.SubmissionAccess,
		Settings:            datatypes.JSONMap(req.Settings),
		SubmissionRevisions: req.SubmissionRevisions,
		Components:          datatypes.JSON("[]"),
	}
	if form.Type == "" {
		form.Type = model.FormTypeForm
	}
	if len(req.Components) > 0 {
		form.Components = datatypes.JSON(req.Components)
	}
	if principal != nil {
		form.Owner = principal.ID
	}

	if err := s.checkForm(ctx, form); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, form); err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	return form, nil
}

func (s *formService) UpdateForm(ctx context.Context, id string, req UpdateFormRequest) (*model.Form, error) {
	form, err := s.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		form.Title = strings.TrimSpace(*req.Title)
	}
	if req.Name != nil {
		form.Name = strings.TrimSpace(*req.Name)
	}
	if req.Path != nil {
		form.Path = normalizePath(*req.Path)
	}
	if req.Type != nil {
		form.Type = *req.Type
	}
	if req.Display != nil {
		form.Display = *req.Display
	}
	if len(req.Components) > 0 {
		form.Components = datatypes.JSON(req.Components)
	}
	if req.Access != nil {
		form.Access = *req.Access
	}
	if req.SubmissionAccess != nil {
		form.SubmissionAccess = *req.SubmissionAccess
	}
	if req.Settings != nil {
		form.Settings = datatypes.JSONMap(req.Settings)
	}
	if req.SubmissionRevisions != nil {
		form.SubmissionRevisions = *req.SubmissionRevisions
	}

	if err := s.checkForm(ctx, form); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, form); err != nil {
		return nil, fmt.Errorf("failed to update form: %w", err)
	}
	s.cache.Invalidate(ctx, form.ID)
	return form, nil
}

func (s *formService) DeleteForm(ctx context.Context, id string) error {
	form, err := s.GetForm(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, form.ID); err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}
	s.cache.Invalidate(ctx, form.ID)
	return nil
}

// checkForm validates the form document and its name/path uniqueness
func (s *formService) checkForm(ctx context.Context, form *model.Form) error {
	if form.Title == "" {
		return apperr.BadRequest("Form title is required")
	}
	if !formNamePattern.MatchString(form.Name) {
		return apperr.BadRequest("Form name may only contain letters, numbers, hyphens and underscores")
	}
	if form.Path == "" {
		return apperr.BadRequest("Form path is required")
	}

	comps, err := form.ParseComponents()
	if err != nil {
		return apperr.BadRequest("Invalid components: %v", err)
	}
	if dups := component.DuplicateKeys(comps); len(dups) > 0 {
		return apperr.BadRequest("Component keys must be unique: %s", strings.Join(dups, ", "))
	}

	if existing, err := s.repo.FindByName(ctx, form.Name); err == nil && existing.ID != form.ID {
		return apperr.BadRequest("The form name %q is already in use", form.Name)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check form name: %w", err)
	}
	if existing, err := s.repo.FindByPath(ctx, form.Path); err == nil && existing.ID != form.ID {
		return apperr.BadRequest("The form path %q is already in use", form.Path)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check form path: %w", err)
	}
	return nil
}

// Helper: lower-case path without surrounding slashes
func normalizePath(p string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(p), "/"))
}

package service

import (
	"context"
	"errors"
	"fmt"

	"formio-api/internal/action"
	"formio-api/internal/apperr"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// --- DTOs ---

type ActionRequest struct {
	Name     string         `json:"name" binding:"required"`
	Title    string         `json:"title"`
	Handler  []string       `json:"handler"`
	Method   []string       `json:"method"`
	Priority int            `json:"priority"`
	Settings map[string]any `json:"settings"`
}

type ActionTypeResponse struct {
	action.Info
	SettingsForm []map[string]any `json:"settingsForm"`
}

// --- Interface ---

type ActionService interface {
	ListActions(ctx context.Context, formID string) ([]model.Action, error)
	GetAction(ctx context.Context, formID, id string) (*model.Action, error)
	CreateAction(ctx context.Context, formID string, req ActionRequest) (*model.Action, error)
	UpdateAction(ctx context.Context, formID, id string, req ActionRequest) (*model.Action, error)
	DeleteAction(ctx context.Context, formID, id string) error
	ListTypes() []action.Info
	GetType(name string) (*ActionTypeResponse, error)
}

type actionService struct {
	forms    submission.FormSource
	repo     repository.ActionRepository
	registry *action.Registry
}

func NewActionService(forms submission.FormSource, repo repository.ActionRepository, registry *action.Registry) ActionService {
	return &actionService{forms: forms, repo: repo, registry: registry}
}

// --- Implementation ---

func (s *actionService) ListActions(ctx context.Context, formID string) ([]model.Action, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	actions, err := s.repo.ListByForm(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch actions: %w", err)
	}
	return actions, nil
}

func (s *actionService) GetAction(ctx context.Context, formID, id string) (*model.Action, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	actionID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.BadRequest("Invalid action id")
	}
	a, err := s.repo.FindByID(ctx, form.ID, actionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Action not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch action: %w", err)
	}
	return a, nil
}

func (s *actionService) CreateAction(ctx context.Context, formID string, req ActionRequest) (*model.Action, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	a := &model.Action{FormID: form.ID}
	applyActionRequest(a, req)
	if err := s.check(a); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create action: %w", err)
	}
	return a, nil
}

func (s *actionService) UpdateAction(ctx context.Context, formID, id string, req ActionRequest) (*model.Action, error) {
	a, err := s.GetAction(ctx, formID, id)
	if err != nil {
		return nil, err
	}
	applyActionRequest(a, req)
	if err := s.check(a); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to update action: %w", err)
	}
	return a, nil
}

func (s *actionService) DeleteAction(ctx context.Context, formID, id string) error {
	a, err := s.GetAction(ctx, formID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, a.FormID, a.ID); err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	return nil
}

func (s *actionService) ListTypes() []action.Info {
	return s.registry.List()
}

func (s *actionService) GetType(name string) (*ActionTypeResponse, error) {
	def, ok := s.registry.Lookup(name)
	if !ok {
		return nil, apperr.NotFound("Action not found.")
	}
	return &ActionTypeResponse{Info: def.Info, SettingsForm: def.SettingsForm()}, nil
}

// check fills type defaults and builds the action once so bad settings
// are rejected when saved rather than on the next submission.
func (s *actionService) check(a *model.Action) error {
	if err := s.registry.ApplyDefaults(a); err != nil {
		return apperr.BadRequest("Unknown action %q", a.Name)
	}
	def, _ := s.registry.Lookup(a.Name)
	if _, err := def.New(&action.Deps{}, a, &submission.Request{}); err != nil {
		return apperr.BadRequest("Invalid %s action: %v", a.Name, err)
	}
	for _, h := range a.Handler {
		if h != string(submission.HandlerBefore) && h != string(submission.HandlerAfter) {
			return apperr.BadRequest("Unknown action handler %q", h)
		}
	}
	for _, m := range a.Method {
		if !validMethod(m) {
			return apperr.BadRequest("Unknown action method %q", m)
		}
	}
	return nil
}

func (s *actionService) loadForm(ctx context.Context, formID string) (*model.Form, error) {
	id, err := uuid.Parse(formID)
	if err != nil {
		return nil, apperr.BadRequest("Invalid form id")
	}
	form, err := s.forms.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Form not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form: %w", err)
	}
	return form, nil
}

func applyActionRequest(a *model.Action, req ActionRequest) {
	a.Name = req.Name
	a.Title = req.Title
	a.Handler = datatypes.JSONSlice[string](req.Handler)
	a.Method = datatypes.JSONSlice[string](req.Method)
	a.Priority = req.Priority
	a.Settings = datatypes.JSONMap(req.Settings)
}

func validMethod(m string) bool {
	for _, known := range submission.Methods {
		if string(known) == m {
			return true
		}
	}
	return false
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"formio-api/internal/apperr"
	"formio-api/internal/model"
	"formio-api/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Admin       bool   `json:"admin"`
	Default     bool   `json:"default"`
}

type UpdateRoleRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Admin       *bool   `json:"admin"`
	Default     *bool   `json:"default"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]model.Role, error)
	GetRole(ctx context.Context, id string) (*model.Role, error)
	CreateRole(ctx context.Context, req CreateRoleRequest) (*model.Role, error)
	UpdateRole(ctx context.Context, id string, req UpdateRoleRequest) (*model.Role, error)
	DeleteRole(ctx context.Context, id string) error
	SeedDefaultRoles(ctx context.Context) error
}

type roleService struct {
	repo repository.RoleRepository
}

func NewRoleService(repo repository.RoleRepository) RoleService {
	return &roleService{repo: repo}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]model.Role, error) {
	roles, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}
	return roles, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*model.Role, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.BadRequest("Invalid role id")
	}
	role, err := s.repo.FindByID(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Role not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch role: %w", err)
	}
	return role, nil
}

func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest) (*model.Role, error) {
	role := &model.Role{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Admin:       req.Admin,
		Default:     req.Default,
	}
	if err := s.checkTitle(ctx, role); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

func (s *roleService) UpdateRole(ctx context.Context, id string, req UpdateRoleRequest) (*model.Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		role.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Admin != nil {
		role.Admin = *req.Admin
	}
	if req.Default != nil {
		role.Default = *req.Default
	}
	if err := s.checkTitle(ctx, role); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return role, nil
}

func (s *roleService) DeleteRole(ctx context.Context, id string) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Default || role.Admin {
		return apperr.BadRequest("Cannot delete the %s role", role.Title)
	}
	if err := s.repo.Delete(ctx, role.ID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// SeedDefaultRoles creates the administrator, authenticated and anonymous
// roles if they are missing.
func (s *roleService) SeedDefaultRoles(ctx context.Context) error {
	defaults := []model.Role{
		{Title: "Administrator", Description: "A role for Administrative Users.", Admin: true},
		{Title: "Authenticated", Description: "A role for Authenticated Users."},
		{Title: "Anonymous", Description: "A role for Anonymous Users.", Default: true},
	}
	for i := range defaults {
		role := &defaults[i]
		_, err := s.repo.FindByTitle(ctx, role.Title)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to look up role '%s': %w", role.Title, err)
		}
		if err := s.repo.Create(ctx, role); err != nil {
			return fmt.Errorf("failed to seed role '%s': %w", role.Title, err)
		}
	}
	return nil
}

// Helper: titles are required and unique
func (s *roleService) checkTitle(ctx context.Context, role *model.Role) error {
	if role.Title == "" {
		return apperr.BadRequest("Role title is required")
	}
	existing, err := s.repo.FindByTitle(ctx, role.Title)
	if err == nil && existing.ID != role.ID {
		return apperr.BadRequest("The role title %q is already in use", role.Title)
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check role title: %w", err)
	}
	return nil
}

package action

import (
	"context"
	"errors"
	"fmt"

	"formio-api/internal/apperr"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"github.com/google/uuid"
)

const RoleName = "role"

const (
	RoleAdd    = "add"
	RoleRemove = "remove"

	AssociationOwner = "owner"
)

var roleInfo = Info{
	Name:        RoleName,
	Title:       "Role Assignment",
	Description: "Adds or removes a role on the submission or its owner.",
	Priority:    1,
	Defaults: Defaults{
		Handler: []string{string(submission.HandlerAfter)},
		Method:  []string{string(submission.MethodCreate)},
	},
}

var roleDefinition = Definition{
	Info: roleInfo,
	SettingsForm: func() []map[string]any {
		return []map[string]any{
			{"type": "select", "key": "role", "label": "Role", "validate": map[string]any{"required": true}},
			{"type": "radio", "key": "type", "label": "Action", "defaultValue": RoleAdd},
			{"type": "radio", "key": "association", "label": "Association", "defaultValue": AssociationNew},
			{"type": "select", "key": "resource", "label": "Owner resource"},
		}
	},
	New: newRoleAction,
}

type roleSettings struct {
	Role        string `json:"role"`
	Type        string `json:"type"`
	Association string `json:"association"`
	// Resource is the form holding owner submissions.
	Resource string `json:"resource"`
}

// RoleAction changes the roles of a submission after it is saved.
type RoleAction struct {
	base
	deps     *Deps
	settings roleSettings
	roleID   uuid.UUID
}

func newRoleAction(deps *Deps, stored *model.Action, _ *submission.Request) (submission.Action, error) {
	a := &RoleAction{base: newBase(roleInfo, stored), deps: deps}
	if err := decodeSettings(stored, &a.settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	id, err := uuid.Parse(a.settings.Role)
	if err != nil {
		return nil, fmt.Errorf("invalid role id %q", a.settings.Role)
	}
	a.roleID = id
	if a.settings.Type == "" {
		a.settings.Type = RoleAdd
	}
	if a.settings.Type != RoleAdd && a.settings.Type != RoleRemove {
		return nil, fmt.Errorf("unknown role action type %q", a.settings.Type)
	}
	if a.settings.Association == "" {
		a.settings.Association = AssociationNew
	}
	return a, nil
}

func (a *RoleAction) Resolve(ctx context.Context, _ submission.Handler, _ submission.Method, req *submission.Request) error {
	if req.Response == nil || req.Response.Item == nil {
		return nil
	}
	if _, err := a.deps.Roles.FindByID(ctx, a.roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.BadRequest("Role %s not found", a.roleID)
		}
		return fmt.Errorf("load role: %w", err)
	}

	item := req.Response.Item
	formID, targetID := item.FormID, item.ID
	if a.settings.Association == AssociationOwner {
		if item.Owner == nil {
			return nil
		}
		resource, err := uuid.Parse(a.settings.Resource)
		if err != nil {
			return apperr.BadRequest("Role action has no owner resource")
		}
		formID, targetID = resource, *item.Owner
	}

	target, err := a.deps.Submissions.FindByID(ctx, formID, targetID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Submission not found.")
	}
	if err != nil {
		return fmt.Errorf("load role target: %w", err)
	}
	roles, changed := applyRole(target.Roles, a.roleID.String(), a.settings.Type)
	if !changed {
		return nil
	}
	target.Roles = roles
	if err := a.deps.Submissions.Update(ctx, target); err != nil {
		return fmt.Errorf("update roles: %w", err)
	}
	if target.ID == item.ID {
		item.Roles = append(item.Roles[:0:0], roles...)
	}
	return nil
}

func applyRole(roles []string, role, op string) ([]string, bool) {
	idx := -1
	for i, r := range roles {
		if r == role {
			idx = i
			break
		}
	}
	switch {
	case op == RoleAdd && idx < 0:
		return append(append([]string(nil), roles...), role), true
	case op == RoleRemove && idx >= 0:
		out := append([]string(nil), roles[:idx]...)
		return append(out, roles[idx+1:]...), true
	}
	return roles, false
}

package action

import (
	"context"
	"errors"
	"fmt"

	"formio-api/internal/apperr"
	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"github.com/google/uuid"
)

const ResourceName = "resource"

const (
	AssociationNew      = "new"
	AssociationExisting = "existing"
)

var resourceInfo = Info{
	Name:        ResourceName,
	Title:       "Save to Resource",
	Description: "Copies mapped fields into a submission of another resource.",
	Priority:    5,
	Defaults: Defaults{
		Handler: []string{string(submission.HandlerBefore)},
		Method:  []string{string(submission.MethodCreate), string(submission.MethodUpdate)},
	},
}

var resourceDefinition = Definition{
	Info: resourceInfo,
	SettingsForm: func() []map[string]any {
		return []map[string]any{
			{"type": "select", "key": "resource", "label": "Resource", "validate": map[string]any{"required": true}},
			{"type": "datagrid", "key": "fields", "label": "Field mapping"},
			{"type": "select", "key": "role", "label": "Role"},
			{"type": "radio", "key": "association", "label": "Association", "defaultValue": AssociationNew},
			{"type": "textfield", "key": "property", "label": "Existing resource field"},
		}
	},
	New: newResourceAction,
}

type resourceSettings struct {
	Resource string `json:"resource"`
	// Fields maps target resource keys to source data paths.
	Fields      map[string]string `json:"fields"`
	Role        string            `json:"role"`
	Association string            `json:"association"`
	Property    string            `json:"property"`
}

// ResourceAction writes mapped fields of a submission into another
// resource, either as a new linked submission or onto an existing one.
type ResourceAction struct {
	base
	deps       *Deps
	settings   resourceSettings
	resourceID uuid.UUID
}

func newResourceAction(deps *Deps, stored *model.Action, req *submission.Request) (submission.Action, error) {
	a := &ResourceAction{base: newBase(resourceInfo, stored), deps: deps}
	if err := decodeSettings(stored, &a.settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	id, err := uuid.Parse(a.settings.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource id %q", a.settings.Resource)
	}
	a.resourceID = id
	if a.settings.Association == "" {
		a.settings.Association = AssociationNew
	}
	if a.settings.Association == AssociationExisting {
		if a.settings.Property == "" {
			return nil, errors.New("existing association requires a property")
		}
		// The mapped fields land on the existing resource; the default
		// action must not also save them.
		req.DisableDefaultAction = true
	}
	return a, nil
}

func (a *ResourceAction) Resolve(ctx context.Context, _ submission.Handler, method submission.Method, req *submission.Request) error {
	if req.Submission == nil {
		return nil
	}
	form, err := a.deps.Forms.FindByID(ctx, a.resourceID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.BadRequest("Resource %s not found", a.resourceID)
	}
	if err != nil {
		return fmt.Errorf("load resource form: %w", err)
	}

	data := a.mappedData(req.Submission.Data)
	if a.settings.Association == AssociationExisting {
		return a.updateExisting(ctx, form, data, req)
	}

	op := req.Sub(form.ID, submission.MethodCreate, map[string]any{"data": data})
	if method == submission.MethodUpdate {
		linked, ok := req.Submission.ExternalIDFor(ResourceName, form.ID.String())
		if !ok {
			return nil
		}
		id, err := uuid.Parse(linked)
		if err != nil {
			return nil
		}
		op.Method = submission.MethodUpdate
		op.SubmissionID = id
	}

	resp, err := a.deps.Processor.Process(ctx, op)
	if err != nil {
		return err
	}
	if method != submission.MethodCreate || resp.Item == nil {
		return nil
	}

	child := resp.Item
	if a.settings.Role != "" {
		if err := a.assignRole(ctx, form.ID, child.ID); err != nil {
			return err
		}
	}
	req.Submission.ExternalIDs = append(req.Submission.ExternalIDs, model.ExternalID{
		Type:     ResourceName,
		Resource: form.ID.String(),
		ID:       child.ID.String(),
	})
	return nil
}

func (a *ResourceAction) mappedData(src map[string]any) map[string]any {
	out := map[string]any{}
	if len(a.settings.Fields) == 0 {
		return model.CloneMap(src)
	}
	for target, source := range a.settings.Fields {
		if v, ok := component.Get(src, source); ok {
			component.Set(out, target, model.CloneValue(v))
		}
	}
	return out
}

func (a *ResourceAction) updateExisting(ctx context.Context, form *model.Form, data map[string]any, req *submission.Request) error {
	ref, _ := component.Get(req.Submission.Data, a.settings.Property)
	var raw string
	switch v := ref.(type) {
	case string:
		raw = v
	case map[string]any:
		raw, _ = v["_id"].(string)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return apperr.BadRequest("No existing %s submission referenced by %s", form.Name, a.settings.Property)
	}

	existing, err := a.deps.Submissions.FindByID(ctx, form.ID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Submission not found.")
	}
	if err != nil {
		return fmt.Errorf("load existing resource: %w", err)
	}
	merged := model.CloneMap(existing.Data)
	for k, v := range data {
		merged[k] = v
	}

	op := req.Sub(form.ID, submission.MethodUpdate, map[string]any{"data": merged})
	op.SubmissionID = id
	resp, err := a.deps.Processor.Process(ctx, op)
	if err != nil {
		return err
	}
	req.SkipResource = true
	req.Response = resp
	return nil
}

// assignRole reloads the child so fields stripped from responses are kept.
func (a *ResourceAction) assignRole(ctx context.Context, formID, childID uuid.UUID) error {
	roleID, err := uuid.Parse(a.settings.Role)
	if err != nil {
		return apperr.BadRequest("Invalid role %q", a.settings.Role)
	}
	role, err := a.deps.Roles.FindByID(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.BadRequest("Role %s not found", a.settings.Role)
	}
	if err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	child, err := a.deps.Submissions.FindByID(ctx, formID, childID)
	if err != nil {
		return fmt.Errorf("load resource submission: %w", err)
	}
	if child.HasRole(role.ID.String()) {
		return nil
	}
	child.Roles = append(child.Roles, role.ID.String())
	if err := a.deps.Submissions.Update(ctx, child); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

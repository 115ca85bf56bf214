package validator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/processor"
	"formio-api/internal/repository"
	"formio-api/internal/sandbox"

	"github.com/google/uuid"
)

// SubmissionStore is the read side of submission storage the validator needs.
type SubmissionStore interface {
	FindUniqueConflict(ctx context.Context, q repository.UniqueQuery) (*uuid.UUID, error)
	FindOne(ctx context.Context, formID uuid.UUID, filters []repository.FieldFilter) (*model.Submission, error)
}

// FormStore loads forms referenced by components.
type FormStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error)
}

type Deps struct {
	Submissions SubmissionStore
	Forms       FormStore
	Evaluator   *sandbox.Evaluator
	Fetcher     processor.Fetcher
	// Collation enables collation comparison for ASCII unique values.
	Collation bool
}

// Validator validates submissions against one form. It is not safe for
// concurrent use; build one per request.
type Validator struct {
	form  *model.Form
	deps  Deps
	subID *uuid.UUID
}

func New(form *model.Form, deps Deps) *Validator {
	return &Validator{form: form, deps: deps}
}

func (v *Validator) schema() ([]*component.Component, error) {
	// Processing mutates the tree (datatable dereference), so each run
	// works on a freshly parsed copy.
	return v.form.ParseComponents()
}

// Validate processes sub.Data against the form. On success sub.Data holds
// the cleaned data; on failure a *ValidationError is returned.
func (v *Validator) Validate(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.Data == nil {
		return nil
	}
	comps, err := v.schema()
	if err != nil {
		return err
	}

	v.subID = nil
	if sub.ID != uuid.Nil {
		id := sub.ID
		v.subID = &id
	}

	pc := &processor.Context{
		FormID:     v.form.ID.String(),
		Components: comps,
		Data:       sub.Data,
		Database:   v,
		Fetcher:    v.deps.Fetcher,
	}
	if v.subID != nil {
		pc.SubmissionID = v.subID.String()
	}
	if err := processor.Process(ctx, pc); err != nil {
		return err
	}

	data := pc.Data
	if v.deps.Evaluator != nil {
		req := &sandbox.Request{
			Components: comps,
			Data:       data,
			Submission: submissionEnv(sub),
			Form:       map[string]any{"_id": v.form.ID.String(), "name": v.form.Name, "title": v.form.Title},
			Scope:      &pc.Scope,
			Capabilities: sandbox.Capabilities{
				IsUnique: v.isUniquePath,
			},
		}
		err := v.deps.Evaluator.EvaluateProcess(ctx, req)
		switch {
		case errors.Is(err, sandbox.ErrTimeout):
			pc.Scope.Errors = append(pc.Scope.Errors, processor.Error{
				Message: "Custom validation timed out",
				Level:   "error",
				Path:    []any{},
				Context: processor.ErrorContext{Validator: "custom"},
			})
		case errors.Is(err, sandbox.ErrEvaluation):
			pc.Scope.Errors = append(pc.Scope.Errors, processor.Error{
				Message: "Custom validation failed",
				Level:   "error",
				Path:    []any{},
				Context: processor.ErrorContext{Validator: "custom"},
			})
		case err != nil:
			return err
		default:
			data = req.Data
		}
	}

	for _, path := range pc.Scope.Fetched {
		component.Delete(data, path)
	}
	if len(pc.Scope.Errors) > 0 {
		return &ValidationError{Details: pc.Scope.Errors}
	}
	sub.Data = data
	return nil
}

func submissionEnv(sub *model.Submission) map[string]any {
	env := map[string]any{"data": map[string]any(sub.Data)}
	if sub.ID != uuid.Nil {
		env["_id"] = sub.ID.String()
	}
	if sub.Owner != nil {
		env["owner"] = sub.Owner.String()
	}
	return env
}

// isUniquePath backs the isUnique() expression capability.
func (v *Validator) isUniquePath(ctx context.Context, path string, value any) (bool, error) {
	path = strings.TrimPrefix(path, "data.")
	comps, err := v.schema()
	if err != nil {
		return false, err
	}
	c := component.Flatten(comps)[path]
	if c == nil {
		c = &component.Component{Key: path}
	}
	_, unique, err := v.IsUnique(ctx, c, path, value)
	return unique, err
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// IsUnique reports whether no other live submission of the form holds value at path.
func (v *Validator) IsUnique(ctx context.Context, c *component.Component, path string, value any) (string, bool, error) {
	q := repository.UniqueQuery{FormID: v.form.ID, Path: path, Value: value, ExcludeID: v.subID}
	switch val := value.(type) {
	case nil:
		return "", true, nil
	case string:
		if val == "" {
			return "", true, nil
		}
		q.Kind = repository.UniqueCaseInsensitive
		if v.deps.Collation && isASCII(val) {
			q.Kind = repository.UniqueCollation
		}
	case []any:
		if len(val) == 0 {
			return "", true, nil
		}
		q.Kind = repository.UniqueArray
	case map[string]any:
		if c.Type == "address" {
			placeID, ok := placeID(val)
			if !ok {
				return "", true, nil
			}
			q.Kind = repository.UniquePlace
			q.Path = path + ".place_id"
			q.Value = placeID
			if _, nested := val["place_id"]; !nested {
				q.Path = path + ".address.place_id"
			}
		} else {
			q.Kind = repository.UniqueEqual
		}
	default:
		q.Kind = repository.UniqueEqual
	}

	id, err := v.deps.Submissions.FindUniqueConflict(ctx, q)
	if err != nil {
		return "", false, err
	}
	if id == nil {
		return "", true, nil
	}
	return id.String(), false, nil
}

func placeID(addr map[string]any) (string, bool) {
	if id, ok := addr["place_id"].(string); ok && id != "" {
		return id, true
	}
	if inner, ok := addr["address"].(map[string]any); ok {
		if id, ok := inner["place_id"].(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// ValidateResourceSelectValue checks that a select value refers to a live
// submission of the component's resource, honouring valueProperty and the
// component filter query.
func (v *Validator) ValidateResourceSelectValue(ctx context.Context, c *component.Component, value any) (bool, error) {
	resourceID, err := uuid.Parse(c.Data.Resource)
	if err != nil {
		return false, nil
	}

	var filters []repository.FieldFilter
	switch {
	case c.ValueProperty != "":
		filters = append(filters, repository.FieldFilter{Path: c.ValueProperty, Value: value})
	default:
		obj, ok := value.(map[string]any)
		if !ok {
			filters = append(filters, repository.FieldFilter{Path: "_id", Value: value})
			break
		}
		if id, ok := obj["_id"]; ok {
			filters = append(filters, repository.FieldFilter{Path: "_id", Value: id})
			break
		}
		data, ok := obj["data"].(map[string]any)
		if !ok {
			data = obj
		}
		for key, val := range data {
			switch val.(type) {
			case map[string]any, []any:
				continue
			}
			filters = append(filters, repository.FieldFilter{Path: "data." + key, Value: val})
		}
	}
	if len(filters) == 0 {
		return false, nil
	}

	if c.Filter != "" {
		query, err := url.ParseQuery(c.Filter)
		if err == nil {
			for key, vals := range query {
				if len(vals) > 0 && (key == "_id" || strings.HasPrefix(key, "data.")) {
					filters = append(filters, repository.FieldFilter{Path: key, Value: vals[0]})
				}
			}
		}
	}

	_, err = v.deps.Submissions.FindOne(ctx, resourceID, filters)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DereferenceDataTableComponent loads the columns of a resource-backed
// datatable from the referenced form, keeping only the configured paths.
func (v *Validator) DereferenceDataTableComponent(ctx context.Context, c *component.Component) ([]*component.Component, error) {
	formID, err := uuid.Parse(c.Fetch.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid datatable resource %q", c.Fetch.Resource)
	}
	form, err := v.deps.Forms.FindByID(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("load datatable resource: %w", err)
	}
	comps, err := form.ParseComponents()
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, col := range c.Fetch.Components {
		wanted[col.Path] = true
	}
	return prune(comps, "", wanted), nil
}

// prune keeps components whose path is wanted, plus the layouts and
// containers needed to reach them.
func prune(comps []*component.Component, prefix string, wanted map[string]bool) []*component.Component {
	var out []*component.Component
	for _, c := range comps {
		path := prefix
		if c.HasData() {
			path = component.Join(prefix, c.Key)
		}
		if c.HasData() && wanted[path] {
			out = append(out, c)
			continue
		}
		childPrefix := prefix
		if c.NestsData() {
			childPrefix = path
		}
		kids := prune(c.Children(), childPrefix, wanted)
		if len(kids) == 0 {
			continue
		}
		cp := *c
		cp.Components, cp.Columns, cp.Rows = kids, nil, nil
		out = append(out, &cp)
	}
	return out
}

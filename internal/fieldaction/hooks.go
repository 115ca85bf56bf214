// Package fieldaction holds the per component hooks the submission
// pipeline runs before and after storage.
package fieldaction

import (
	"context"
	"fmt"
	"strings"

	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/processor"
	"formio-api/internal/repository"
	"formio-api/internal/submission"
	"formio-api/internal/validator"

	"github.com/google/uuid"
)

// FormSource loads the forms referenced components point at.
type FormSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error)
}

type Deps struct {
	Forms       FormSource
	Submissions repository.SubmissionRepository
}

// Hooks returns the hook table keyed the way the pipeline looks it up.
func Hooks(deps Deps) map[string]submission.FieldHooks {
	ref := &referenceHooks{forms: deps.Forms, submissions: deps.Submissions}
	return map[string]submission.FieldHooks{
		"datasource": datasourceHooks(),
		"reference":  ref.hooks(),
		"password":   passwordHooks(),
		"protected":  protectedHooks(),
		"unique":     uniqueHooks(deps.Submissions),
	}
}

// eachResponseData calls fn for the data of every document in the response.
func eachResponseData(req *submission.Request, fn func(data map[string]any)) {
	if req.Response == nil {
		return
	}
	if req.Response.Item != nil {
		fn(req.Response.Item.Data)
	}
	for i := range req.Response.Items {
		fn(req.Response.Items[i].Data)
	}
}

// protectedHooks keep protected values out of every response.
func protectedHooks() submission.FieldHooks {
	strip := func(_ context.Context, _ *component.Component, path string, req *submission.Request) error {
		eachResponseData(req, func(data map[string]any) { component.DeleteAll(data, path) })
		return nil
	}
	return submission.FieldHooks{AfterGet: strip, AfterPost: strip, AfterPut: strip, AfterIndex: strip}
}

// uniqueHooks serialise writers of the same unique value and re-check it
// inside the write transaction.
func uniqueHooks(subs repository.SubmissionRepository) submission.FieldHooks {
	check := func(ctx context.Context, c *component.Component, path string, req *submission.Request) error {
		if req.Validator == nil || !req.DataProvided || req.Submission == nil {
			return nil
		}
		data := req.Submission.Data
		for _, p := range component.Expand(data, path) {
			if component.InArray(p) {
				continue
			}
			value, _ := component.Get(data, p)
			if isEmpty(value) {
				continue
			}
			key := fmt.Sprintf("%s:%s:%s", req.Form.ID, p, strings.ToLower(fmt.Sprint(value)))
			if err := subs.LockKey(ctx, key); err != nil {
				return fmt.Errorf("lock unique value: %w", err)
			}
			conflictID, unique, err := req.Validator.IsUnique(ctx, c, p, value)
			if err != nil {
				return err
			}
			if !unique {
				return validator.NewValidationError(processor.Error{
					Message: fmt.Sprintf("%s must be unique", c.DisplayLabel()),
					Level:   "error",
					Path:    component.Tokens(p),
					Context: processor.ErrorContext{
						Key:        c.Key,
						Label:      c.DisplayLabel(),
						Path:       p,
						Value:      value,
						Validator:  "unique",
						ConflictID: conflictID,
					},
				})
			}
		}
		return nil
	}
	return submission.FieldHooks{BeforePost: check, BeforePut: check}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

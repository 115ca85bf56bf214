package processor

import (
	"context"
	"fmt"

	"formio-api/internal/component"
)

// Database exposes the storage lookups some rules need.
type Database interface {
	IsUnique(ctx context.Context, c *component.Component, path string, value any) (conflictID string, unique bool, err error)
	ValidateResourceSelectValue(ctx context.Context, c *component.Component, value any) (bool, error)
	DereferenceDataTableComponent(ctx context.Context, c *component.Component) ([]*component.Component, error)
}

// Fetcher resolves server-triggered datasource components.
type Fetcher interface {
	Fetch(ctx context.Context, c *component.Component, data map[string]any) (any, error)
}

// ErrorContext describes the component a validation error belongs to.
type ErrorContext struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Path       string `json:"path"`
	Value      any    `json:"value,omitempty"`
	Validator  string `json:"validator"`
	ConflictID string `json:"conflictId,omitempty"`
}

// Error is a single validation failure.
type Error struct {
	Message string       `json:"message"`
	Level   string       `json:"level"`
	Path    []any        `json:"path"`
	Context ErrorContext `json:"context"`
}

// NewError builds an error for a component instance.
func NewError(inst *component.Instance, validator, message string) Error {
	c := inst.Component
	return Error{
		Message: message,
		Level:   "error",
		Path:    component.Tokens(inst.Path),
		Context: ErrorContext{
			Key:       c.Key,
			Label:     c.DisplayLabel(),
			Path:      inst.Path,
			Value:     inst.Value,
			Validator: validator,
		},
	}
}

// Scope accumulates the results of a processing run.
type Scope struct {
	Errors []Error
	// Fetched lists instance paths filled by datasource fetches.
	Fetched []string
}

// HasErrorAt reports whether path already failed a rule.
func (s *Scope) HasErrorAt(path string) bool {
	for _, e := range s.Errors {
		if e.Context.Path == path {
			return true
		}
	}
	return false
}

// RemoveErrorsUnder drops errors for path and everything nested below it.
func (s *Scope) RemoveErrorsUnder(path string) {
	kept := s.Errors[:0]
	for _, e := range s.Errors {
		if !isUnder(e.Context.Path, path) {
			kept = append(kept, e)
		}
	}
	s.Errors = kept
}

func isUnder(p, prefix string) bool {
	if p == prefix {
		return true
	}
	if len(p) <= len(prefix) || p[:len(prefix)] != prefix {
		return false
	}
	next := p[len(prefix)]
	return next == '.' || next == '['
}

// Context is the input to Process.
type Context struct {
	FormID       string
	SubmissionID string
	Components   []*component.Component
	Data         map[string]any
	Database     Database
	Fetcher      Fetcher
	Scope        Scope
}

// Process runs the fetch, dereference, conditional and validation passes
// over Data in place. Rule failures land in Scope.Errors; the returned error
// is reserved for infrastructure failures.
func Process(ctx context.Context, pc *Context) error {
	if pc.Data == nil {
		pc.Data = map[string]any{}
	}
	if err := dereferenceTables(ctx, pc); err != nil {
		return err
	}
	if err := fetchDatasources(ctx, pc); err != nil {
		return err
	}
	clearHidden(pc)
	return validate(ctx, pc)
}

func dereferenceTables(ctx context.Context, pc *Context) error {
	if pc.Database == nil {
		return nil
	}
	var err error
	component.Each(pc.Components, func(c *component.Component, path string) bool {
		if err != nil {
			return false
		}
		if c.Type != "datatable" || c.Fetch.DataSrc != "resource" || c.Fetch.Resource == "" {
			return true
		}
		var comps []*component.Component
		comps, err = pc.Database.DereferenceDataTableComponent(ctx, c)
		if err != nil {
			err = fmt.Errorf("dereference datatable %s: %w", path, err)
			return false
		}
		c.Components = comps
		return false
	})
	return err
}

func fetchDatasources(ctx context.Context, pc *Context) error {
	if pc.Fetcher == nil {
		return nil
	}
	var err error
	EachVisible(pc.Components, pc.Data, func(inst *component.Instance) bool {
		if err != nil {
			return false
		}
		c := inst.Component
		if c.Type != "datasource" || !c.Trigger.Server {
			return true
		}
		var value any
		value, err = pc.Fetcher.Fetch(ctx, c, pc.Data)
		if err != nil {
			err = fmt.Errorf("fetch datasource %s: %w", inst.Path, err)
			return false
		}
		inst.Scope[c.Key] = value
		pc.Scope.Fetched = append(pc.Scope.Fetched, inst.Path)
		return true
	})
	return err
}

// clearHidden removes values of conditionally hidden components.
func clearHidden(pc *Context) {
	component.EachValue(pc.Components, pc.Data, func(inst *component.Instance) bool {
		if Visible(inst, pc.Data) {
			return true
		}
		c := inst.Component
		if !c.ClearsOnHide() {
			return false
		}
		if c.HasData() {
			delete(inst.Scope, c.Key)
			return false
		}
		inst.EachChild(func(child *component.Instance) bool {
			if child.Component.HasData() && child.Component.ClearsOnHide() {
				delete(child.Scope, child.Component.Key)
				return false
			}
			return true
		})
		return false
	})
}

// EachVisible walks instances, skipping conditionally hidden subtrees.
func EachVisible(components []*component.Component, data map[string]any, fn component.InstanceVisitor) {
	component.EachValue(components, data, func(inst *component.Instance) bool {
		if !Visible(inst, data) {
			return false
		}
		return fn(inst)
	})
}

func validate(ctx context.Context, pc *Context) error {
	var err error
	EachVisible(pc.Components, pc.Data, func(inst *component.Instance) bool {
		if err != nil {
			return false
		}
		if !inst.Component.HasData() {
			return true
		}
		err = runRules(ctx, pc, inst)
		return err == nil
	})
	return err
}

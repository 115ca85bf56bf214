package fieldaction

import (
	"context"
	"errors"
	"fmt"

	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"github.com/google/uuid"
)

// referenceHooks store references as {_id} and expand them on the way out.
type referenceHooks struct {
	forms       FormSource
	submissions repository.SubmissionRepository
}

func (h *referenceHooks) hooks() submission.FieldHooks {
	return submission.FieldHooks{
		BeforePost: h.beforeWrite,
		BeforePut:  h.beforeWrite,
		AfterPost:  h.afterWrite,
		AfterPut:   h.afterWrite,
		AfterGet:   h.afterRead,
		AfterIndex: h.afterRead,
	}
}

func stashKey(path string) string { return "reference:" + path }

// refTarget is one document's data and the reference paths inside it.
type refTarget struct {
	data  map[string]any
	paths []string
}

// targetForm is the resource a reference component points at.
func targetForm(c *component.Component) (uuid.UUID, bool) {
	for _, raw := range []string{c.Data.Resource, c.Form} {
		if raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (h *referenceHooks) beforeWrite(_ context.Context, _ *component.Component, path string, req *submission.Request) error {
	if req.Submission == nil {
		return nil
	}
	data := req.Submission.Data
	for _, p := range component.Expand(data, path) {
		value, _ := component.Get(data, p)
		stripped, changed := stripReference(value)
		if !changed {
			continue
		}
		req.Put(stashKey(p), model.CloneValue(value))
		component.Set(data, p, stripped)
	}
	return nil
}

// stripReference reduces a reference, or a list of them, to ids only.
func stripReference(v any) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		id, ok := t["_id"].(string)
		if !ok || id == "" {
			return v, false
		}
		return map[string]any{"_id": id}, len(t) > 1
	case string:
		if _, err := uuid.Parse(t); err != nil {
			return v, false
		}
		return map[string]any{"_id": t}, true
	case []any:
		out := make([]any, len(t))
		changed := false
		for i, el := range t {
			s, c := stripReference(el)
			out[i] = s
			changed = changed || c
		}
		return out, changed
	}
	return v, false
}

// afterWrite re-attaches the objects the client sent, so the response
// matches the request without reading the references back.
func (h *referenceHooks) afterWrite(ctx context.Context, c *component.Component, path string, req *submission.Request) error {
	data := req.Data()
	var missing []string
	for _, p := range component.Expand(data, path) {
		if full, ok := req.Get(stashKey(p)); ok {
			component.Set(data, p, full)
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return nil
	}
	return h.resolve(ctx, c, []refTarget{{data: data, paths: missing}})
}

func (h *referenceHooks) afterRead(ctx context.Context, c *component.Component, path string, req *submission.Request) error {
	var targets []refTarget
	eachResponseData(req, func(data map[string]any) {
		if paths := component.Expand(data, path); len(paths) > 0 {
			targets = append(targets, refTarget{data: data, paths: paths})
		}
	})
	if len(targets) == 0 {
		return nil
	}
	return h.resolve(ctx, c, targets)
}

// resolve loads every referenced submission of c in one query and
// replaces the {_id} values at the given paths. References whose target
// is gone are reduced to {_id}.
func (h *referenceHooks) resolve(ctx context.Context, c *component.Component, targets []refTarget) error {
	formID, ok := targetForm(c)
	if !ok {
		return nil
	}

	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, t := range targets {
		for _, p := range t.paths {
			value, _ := component.Get(t.data, p)
			for _, id := range referenceIDs(value) {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	form, err := h.forms.FindByID(ctx, formID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load referenced form: %w", err)
	}
	comps, err := form.ParseComponents()
	if err != nil {
		return fmt.Errorf("parse referenced form: %w", err)
	}
	found, err := h.submissions.FindByIDs(ctx, formID, ids)
	if err != nil {
		return fmt.Errorf("load references: %w", err)
	}
	docs := make(map[string]map[string]any, len(found))
	for i := range found {
		docs[found[i].ID.String()] = found[i].PublicDocument(comps)
	}

	for _, t := range targets {
		for _, p := range t.paths {
			value, _ := component.Get(t.data, p)
			component.Set(t.data, p, expandReference(value, docs))
		}
	}
	return nil
}

func referenceIDs(v any) []uuid.UUID {
	switch t := v.(type) {
	case map[string]any:
		raw, _ := t["_id"].(string)
		if id, err := uuid.Parse(raw); err == nil {
			return []uuid.UUID{id}
		}
	case []any:
		var out []uuid.UUID
		for _, el := range t {
			out = append(out, referenceIDs(el)...)
		}
		return out
	}
	return nil
}

func expandReference(v any, docs map[string]map[string]any) any {
	switch t := v.(type) {
	case map[string]any:
		id, _ := t["_id"].(string)
		if doc, ok := docs[id]; ok {
			return model.CloneMap(doc)
		}
		return map[string]any{"_id": id}
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = expandReference(el, docs)
		}
		return out
	}
	return v
}

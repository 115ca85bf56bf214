package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"github.com/google/uuid"
)

const DefaultName = "default"

var defaultInfo = Info{
	Name:        DefaultName,
	Title:       "Save Submission",
	Description: "Saves the submission and any embedded resource fields.",
	Priority:    10,
	Defaults: Defaults{
		Handler: []string{string(submission.HandlerBefore)},
		Method:  []string{string(submission.MethodCreate), string(submission.MethodUpdate)},
	},
}

var defaultDefinition = Definition{
	Info:         defaultInfo,
	SettingsForm: func() []map[string]any { return []map[string]any{} },
	New: func(deps *Deps, stored *model.Action, _ *submission.Request) (submission.Action, error) {
		return &DefaultAction{base: newBase(defaultInfo, stored), deps: deps}, nil
	},
}

// DefaultAction saves fields named "<resource>.<field>" into the sibling
// resource and keeps a reference to the saved resource submission.
type DefaultAction struct {
	base
	deps *Deps
}

func (a *DefaultAction) Resolve(ctx context.Context, _ submission.Handler, method submission.Method, req *submission.Request) error {
	if req.Submission == nil || !req.DataProvided {
		return nil
	}

	own, embedded := splitEmbedded(req.Submission.Data)
	if len(embedded) == 0 {
		return nil
	}
	ownFields := len(own)

	names := make([]string, 0, len(embedded))
	for name := range embedded {
		names = append(names, name)
	}
	sort.Strings(names)

	refs := map[string]any{}
	for _, name := range names {
		fields := embedded[name]
		form, err := a.deps.Forms.FindByName(ctx, name)
		if errors.Is(err, repository.ErrNotFound) {
			// Not a resource; the dotted keys stay submission data.
			for field, v := range fields {
				own[name+"."+field] = v
			}
			ownFields += len(fields)
			continue
		}
		if err != nil {
			return fmt.Errorf("load resource %q: %w", name, err)
		}

		op := req.Sub(form.ID, submission.MethodCreate, map[string]any{"data": fields})
		if id, ok := referencedID(req.Current, name); ok {
			op.Method = submission.MethodUpdate
			op.SubmissionID = id
		}
		resp, err := a.deps.Processor.Process(ctx, op)
		if err != nil {
			return err
		}
		if resp.Item == nil {
			return fmt.Errorf("resource %q returned no submission", name)
		}
		refs[name] = map[string]any{"_id": resp.Item.ID.String()}
	}

	// Nothing of the submission's own remains: keep what is stored and
	// only update the resource links.
	if ownFields == 0 && method == submission.MethodUpdate && req.Current != nil {
		own = model.CloneMap(req.Current.Data)
	}
	for name, ref := range refs {
		own[name] = ref
	}
	req.Submission.Data = own
	return nil
}

// splitEmbedded separates "<resource>.<field>" keys from the rest.
func splitEmbedded(data map[string]any) (map[string]any, map[string]map[string]any) {
	own := map[string]any{}
	embedded := map[string]map[string]any{}
	for k, v := range data {
		prefix, field, ok := strings.Cut(k, ".")
		if !ok || prefix == "" || field == "" {
			own[k] = v
			continue
		}
		if embedded[prefix] == nil {
			embedded[prefix] = map[string]any{}
		}
		embedded[prefix][field] = v
	}
	return own, embedded
}

func referencedID(sub *model.Submission, key string) (uuid.UUID, bool) {
	if sub == nil {
		return uuid.Nil, false
	}
	ref, ok := sub.Data[key].(map[string]any)
	if !ok {
		return uuid.Nil, false
	}
	raw, _ := ref["_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

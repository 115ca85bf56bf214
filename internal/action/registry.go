// Package action holds the form action types and the engine that runs
// them around the submission pipeline.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"github.com/google/uuid"
)

// Defaults are the handler and method bindings a new action starts with.
type Defaults struct {
	Handler []string `json:"handler"`
	Method  []string `json:"method"`
}

// Info is the static description of an action type.
type Info struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Defaults    Defaults `json:"defaults"`
}

// FormFinder resolves the forms actions refer to.
type FormFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error)
	FindByName(ctx context.Context, name string) (*model.Form, error)
}

// Deps are the collaborators action instances share.
type Deps struct {
	Forms       FormFinder
	Submissions repository.SubmissionRepository
	Roles       repository.RoleRepository
	Processor   submission.Processor
	HTTPClient  *http.Client
	Log         *logger.Logger
}

// Factory builds an action instance for one request. It may adjust the
// request, e.g. disable the default action, before any action resolves.
type Factory func(deps *Deps, stored *model.Action, req *submission.Request) (submission.Action, error)

// Definition registers one action type.
type Definition struct {
	Info         Info
	SettingsForm func() []map[string]any
	New          Factory
}

type Registry struct {
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// DefaultRegistry registers every built-in action type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(defaultDefinition)
	r.Register(resourceDefinition)
	r.Register(secureUpdateDefinition)
	r.Register(roleDefinition)
	r.Register(webhookDefinition)
	return r
}

func (r *Registry) Register(def Definition) {
	r.defs[def.Info.Name] = def
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// List returns every registered type ordered by priority then name.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ApplyDefaults fills the handler, method and priority of a stored action
// from its type, and rejects unknown types.
func (r *Registry) ApplyDefaults(a *model.Action) error {
	def, ok := r.Lookup(a.Name)
	if !ok {
		return fmt.Errorf("unknown action %q", a.Name)
	}
	if len(a.Handler) == 0 {
		a.Handler = append(a.Handler, def.Info.Defaults.Handler...)
	}
	if len(a.Method) == 0 {
		a.Method = append(a.Method, def.Info.Defaults.Method...)
	}
	if a.Priority == 0 {
		a.Priority = def.Info.Priority
	}
	if a.Title == "" {
		a.Title = def.Info.Title
	}
	return nil
}

// base carries the bindings every action instance shares.
type base struct {
	name     string
	priority int
	handlers []string
	methods  []string
}

func newBase(info Info, stored *model.Action) base {
	b := base{
		name:     info.Name,
		priority: info.Priority,
		handlers: info.Defaults.Handler,
		methods:  info.Defaults.Method,
	}
	if stored == nil {
		return b
	}
	if stored.Priority != 0 {
		b.priority = stored.Priority
	}
	if len(stored.Handler) > 0 {
		b.handlers = stored.Handler
	}
	if len(stored.Method) > 0 {
		b.methods = stored.Method
	}
	return b
}

func (b base) Name() string  { return b.name }
func (b base) Priority() int { return b.priority }

func (b base) Triggers(handler submission.Handler, method submission.Method) bool {
	return contains(b.handlers, string(handler)) && contains(b.methods, string(method))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// decodeSettings maps stored settings onto a typed struct.
func decodeSettings(stored *model.Action, out any) error {
	if stored == nil || stored.Settings == nil {
		return nil
	}
	raw, err := json.Marshal(stored.Settings)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

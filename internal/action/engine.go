package action

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"formio-api/internal/apperr"
	"formio-api/internal/logger"
	"formio-api/internal/repository"
	"formio-api/internal/submission"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("formio-api/action")

// Engine loads a form's actions and resolves them in priority order.
type Engine struct {
	registry *Registry
	actions  repository.ActionRepository
	deps     *Deps
	log      *logger.Logger
}

func NewEngine(registry *Registry, actions repository.ActionRepository, deps *Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
		deps.Log = log
	}
	return &Engine{registry: registry, actions: actions, deps: deps, log: log}
}

// SetProcessor installs the pipeline nested submissions run through.
func (e *Engine) SetProcessor(p submission.Processor) {
	e.deps.Processor = p
}

// Load builds the action instances for req. The default action is
// always present unless the form stores its own.
func (e *Engine) Load(ctx context.Context, req *submission.Request) error {
	stored, err := e.actions.ListByForm(ctx, req.Form.ID)
	if err != nil {
		return fmt.Errorf("load actions: %w", err)
	}

	var list []submission.Action
	hasDefault := false
	for i := range stored {
		def, ok := e.registry.Lookup(stored[i].Name)
		if !ok {
			e.log.Warn("skipping unknown action", "form_id", req.Form.ID.String(), "action", stored[i].Name)
			continue
		}
		a, err := def.New(e.deps, &stored[i], req)
		if err != nil {
			return apperr.Wrap(http.StatusBadRequest, fmt.Sprintf("Invalid %s action: %v", stored[i].Name, err), err)
		}
		if a.Name() == DefaultName {
			hasDefault = true
		}
		list = append(list, a)
	}
	if !hasDefault {
		if def, ok := e.registry.Lookup(DefaultName); ok {
			a, err := def.New(e.deps, nil, req)
			if err != nil {
				return err
			}
			list = append(list, a)
		}
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority() < list[j].Priority() })
	req.Actions = list
	return nil
}

// Execute resolves every action bound to handler and the request method.
// Actions run one at a time; the first failure stops the chain.
func (e *Engine) Execute(ctx context.Context, handler submission.Handler, req *submission.Request) error {
	for _, a := range req.Actions {
		if !a.Triggers(handler, req.Method) {
			continue
		}
		if a.Name() == DefaultName && req.DisableDefaultAction {
			continue
		}
		if err := e.resolve(ctx, a, handler, req); err != nil {
			e.log.Warn("action failed",
				"form_id", req.Form.ID.String(),
				"method", string(req.Method),
				"action", a.Name(),
				"handler", string(handler),
				"error", err.Error(),
			)
			return err
		}
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, a submission.Action, handler submission.Handler, req *submission.Request) error {
	ctx, span := tracer.Start(ctx, "action."+a.Name(), trace.WithAttributes(
		attribute.String("handler", string(handler)),
		attribute.String("method", string(req.Method)),
		attribute.Int("priority", a.Priority()),
	))
	defer span.End()

	err := a.Resolve(ctx, handler, req.Method, req)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

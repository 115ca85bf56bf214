package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"formio-api/internal/component"
	"formio-api/internal/logger"
	"formio-api/internal/processor"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	ErrTimeout    = errors.New("sandbox: evaluation timed out")
	ErrEvaluation = errors.New("sandbox: evaluation failed")
)

// Capabilities are the host functions expressions may call.
type Capabilities struct {
	IsUnique func(ctx context.Context, path string, value any) (bool, error)
}

// Request is one EvaluateProcess run.
type Request struct {
	Components   []*component.Component
	Data         map[string]any
	Submission   map[string]any
	Form         map[string]any
	Scope        *processor.Scope
	Capabilities Capabilities
}

// compileEnv fixes the identifiers and the isUnique signature programs are checked against.
var compileEnv = map[string]any{
	"data":       map[string]any{},
	"row":        map[string]any{},
	"value":      nil,
	"input":      nil,
	"component":  map[string]any{},
	"submission": map[string]any{},
	"form":       map[string]any{},
	"isUnique":   func(string, any) bool { return true },
}

// Evaluator runs schema expressions (calculated values, custom conditionals
// and custom validations) with expr under a wall-clock budget. Expressions
// only see the values placed in their environment.
type Evaluator struct {
	timeout  time.Duration
	log      *logger.Logger
	programs sync.Map
}

func New(timeout time.Duration, log *logger.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Evaluator{timeout: timeout, log: log}
}

func (e *Evaluator) program(code string) (*vm.Program, error) {
	if p, ok := e.programs.Load(code); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(code, expr.Env(compileEnv), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.programs.Store(code, p)
	return p, nil
}

// EvaluateProcess applies every server-side expression in the schema to
// req.Data. The session works on a private copy; results are committed to
// req only when it completes inside the time budget.
func (e *Evaluator) EvaluateProcess(ctx context.Context, req *Request) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	s := &session{
		ctx:    ctx,
		e:      e,
		req:    req,
		data:   cloneMap(req.Data),
		errors: append([]processor.Error(nil), req.Scope.Errors...),
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrEvaluation, r)
			}
		}()
		done <- s.run()
	}()

	select {
	case err := <-done:
		if ctx.Err() != nil {
			return ErrTimeout
		}
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ErrTimeout
	}

	req.Data = s.data
	req.Scope.Errors = s.errors
	return nil
}

type session struct {
	ctx    context.Context
	e      *Evaluator
	req    *Request
	data   map[string]any
	errors []processor.Error
	capErr error
}

func (s *session) env(inst *component.Instance) map[string]any {
	c := inst.Component
	return map[string]any{
		"data":       s.data,
		"row":        inst.Row,
		"value":      inst.Value,
		"input":      inst.Value,
		"component":  map[string]any{"key": c.Key, "label": c.Label, "type": c.Type},
		"submission": s.req.Submission,
		"form":       s.req.Form,
		"isUnique":   s.isUnique,
	}
}

func (s *session) isUnique(path string, value any) bool {
	if s.req.Capabilities.IsUnique == nil {
		return true
	}
	ok, err := s.req.Capabilities.IsUnique(s.ctx, path, value)
	if err != nil {
		s.capErr = err
		return false
	}
	return ok
}

func (s *session) eval(code string, inst *component.Instance) (any, error) {
	p, err := s.e.program(code)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(p, s.env(inst))
	if s.capErr != nil {
		err, s.capErr = s.capErr, nil
	}
	return out, err
}

func (s *session) run() error {
	var err error
	processor.EachVisible(s.req.Components, s.data, func(inst *component.Instance) bool {
		if err = s.ctx.Err(); err != nil {
			return false
		}
		c := inst.Component
		if c.CalculateValue == "" || !c.CalculateServer || !c.HasData() {
			return true
		}
		v, evalErr := s.eval(c.CalculateValue, inst)
		if evalErr != nil {
			s.e.log.Warn("calculated value failed", "key", c.Key, "error", evalErr)
			return true
		}
		inst.Scope[c.Key] = v
		return true
	})
	if err != nil {
		return err
	}

	processor.EachVisible(s.req.Components, s.data, func(inst *component.Instance) bool {
		if err = s.ctx.Err(); err != nil {
			return false
		}
		c := inst.Component
		if c.CustomConditional != "" {
			v, evalErr := s.eval(c.CustomConditional, inst)
			if evalErr == nil && !visible(v) {
				s.hide(inst)
				return false
			}
		}
		if c.Validate.Custom != "" && c.HasData() && !s.hasErrorAt(inst.Path) {
			s.validateCustom(inst)
		}
		return true
	})
	return err
}

func (s *session) hide(inst *component.Instance) {
	c := inst.Component
	scope := processor.Scope{Errors: s.errors}
	if c.HasData() {
		scope.RemoveErrorsUnder(inst.Path)
		if c.ClearsOnHide() {
			delete(inst.Scope, c.Key)
		}
		s.errors = scope.Errors
		return
	}
	inst.EachChild(func(child *component.Instance) bool {
		if !child.Component.HasData() {
			return true
		}
		scope.RemoveErrorsUnder(child.Path)
		if child.Component.ClearsOnHide() {
			delete(child.Scope, child.Component.Key)
		}
		return false
	})
	s.errors = scope.Errors
}

func (s *session) hasErrorAt(path string) bool {
	scope := processor.Scope{Errors: s.errors}
	return scope.HasErrorAt(path)
}

func (s *session) validateCustom(inst *component.Instance) {
	c := inst.Component
	v, err := s.eval(c.Validate.Custom, inst)
	if err != nil {
		s.e.log.Warn("custom validation failed", "key", c.Key, "error", err)
		s.errors = append(s.errors, processor.NewError(inst, "custom", c.DisplayLabel()+" is invalid"))
		return
	}
	switch r := v.(type) {
	case nil:
	case bool:
		if !r {
			msg := c.Validate.CustomMessage
			if msg == "" {
				msg = c.DisplayLabel() + " is invalid"
			}
			s.errors = append(s.errors, processor.NewError(inst, "custom", msg))
		}
	case string:
		if r != "" {
			s.errors = append(s.errors, processor.NewError(inst, "custom", r))
		}
	}
}

func visible(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case int:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}

var placeholder = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Interpolate replaces {{ expression }} placeholders in a template, e.g. a
// datasource URL, using the given environment.
func (e *Evaluator) Interpolate(ctx context.Context, template string, env map[string]any) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	full := map[string]any{}
	for k, v := range compileEnv {
		full[k] = v
	}
	for k, v := range env {
		full[k] = v
	}

	var firstErr error
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if firstErr != nil {
			return ""
		}
		if err := ctx.Err(); err != nil {
			firstErr = ErrTimeout
			return ""
		}
		code := placeholder.FindStringSubmatch(m)[1]
		p, err := e.program(code)
		if err != nil {
			firstErr = fmt.Errorf("%w: %v", ErrEvaluation, err)
			return ""
		}
		v, err := expr.Run(p, full)
		if err != nil {
			firstErr = fmt.Errorf("%w: %v", ErrEvaluation, err)
			return ""
		}
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	}
	return v
}

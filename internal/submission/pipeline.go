// Package submission runs single submission operations through the
// load, initialize, validate, act and persist stages.
package submission

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"formio-api/internal/apperr"
	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/sandbox"
	"formio-api/internal/validator"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("formio-api/submission")

// DefaultMaxDepth bounds nested submissions issued by actions.
const DefaultMaxDepth = 8

// FormSource resolves forms for the pipeline.
type FormSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Form, error)
}

type Config struct {
	Forms       FormSource
	Submissions repository.SubmissionRepository
	Tx          repository.TransactionManager
	Evaluator   *sandbox.Evaluator
	Fetchers    FetcherFactory
	// Hooks are keyed by component type, plus "unique", "protected" and
	// "reference" for components carrying those flags.
	Hooks     map[string]FieldHooks
	Collation bool
	MaxDepth  int
	Log       *logger.Logger
}

type Pipeline struct {
	cfg     Config
	actions ActionRunner
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	return &Pipeline{cfg: cfg}
}

// SetActions installs the action runner. Actions issue nested operations
// through the pipeline, so the two are wired after construction.
func (p *Pipeline) SetActions(r ActionRunner) {
	p.actions = r
}

// Process runs op through every stage and returns the response.
func (p *Pipeline) Process(ctx context.Context, op Operation) (*Response, error) {
	ctx, span := tracer.Start(ctx, "submission."+string(op.Method), trace.WithAttributes(
		attribute.String("form.id", op.FormID.String()),
		attribute.Bool("internal", op.Internal),
		attribute.Int("depth", op.Depth),
	))
	defer span.End()

	resp, err := p.process(ctx, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
		p.logFailure(op, err)
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) process(ctx context.Context, op Operation) (*Response, error) {
	req, err := p.prepare(ctx, op)
	if err != nil {
		return nil, err
	}

	if op.DryRun && (op.Method == MethodCreate || op.Method == MethodUpdate) {
		return &Response{Status: http.StatusOK, Item: req.Submission}, nil
	}

	if op.Method.Writes() {
		err = p.cfg.Tx.RunInTx(ctx, func(txCtx context.Context) error {
			if err := p.runBefore(txCtx, req); err != nil {
				return err
			}
			return p.persist(txCtx, req)
		})
	} else {
		if err = p.runBefore(ctx, req); err == nil {
			err = p.persist(ctx, req)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := p.runAfter(ctx, req); err != nil {
		return nil, err
	}
	return ensureResponse(req), nil
}

// Prepare runs an operation up to, but not including, the storage write.
// The returned request holds the final document; the caller persists it.
// A dry run stops after validation.
func (p *Pipeline) Prepare(ctx context.Context, op Operation) (*Request, error) {
	ctx, span := tracer.Start(ctx, "submission.prepare", trace.WithAttributes(
		attribute.String("form.id", op.FormID.String()),
		attribute.Bool("dryrun", op.DryRun),
	))
	defer span.End()

	req, err := p.prepare(ctx, op)
	if err == nil && !op.DryRun {
		err = p.runBefore(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return req, nil
}

func (p *Pipeline) prepare(ctx context.Context, op Operation) (*Request, error) {
	if op.Depth > p.cfg.MaxDepth {
		return nil, apperr.BadRequest("Maximum nested submission depth exceeded")
	}
	if op.Principal == nil {
		op.Principal = auth.Anonymous()
	}
	req := &Request{Operation: op}

	if err := p.loadCurrentForm(ctx, req); err != nil {
		return nil, err
	}
	if err := p.initializeSubmission(ctx, req); err != nil {
		return nil, err
	}
	if err := authorize(req); err != nil {
		return nil, err
	}
	if err := p.initializeActions(ctx, req); err != nil {
		return nil, err
	}
	if err := p.validateSubmission(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Pipeline) loadCurrentForm(ctx context.Context, req *Request) error {
	form, err := p.cfg.Forms.FindByID(ctx, req.FormID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Form not found.")
	}
	if err != nil {
		return fmt.Errorf("load form: %w", err)
	}
	comps, err := form.ParseComponents()
	if err != nil {
		return fmt.Errorf("parse form components: %w", err)
	}
	req.Form = form
	req.Components = comps
	return nil
}

func (p *Pipeline) initializeSubmission(ctx context.Context, req *Request) error {
	switch req.Method {
	case MethodIndex:
		return nil
	case MethodCreate:
		body, err := whitelist(req.Payload)
		if err != nil {
			return err
		}
		sub := &model.Submission{
			ID:       req.SubmissionID,
			FormID:   req.Form.ID,
			Data:     body.data,
			Metadata: body.metadata,
			Owner:    req.Principal.ID,
		}
		if sub.Data == nil {
			sub.Data = map[string]any{}
		}
		if body.access != nil {
			sub.Access = body.access
		}
		if body.owner != nil && (req.Principal.Admin || req.Internal) {
			sub.Owner = body.owner
		}
		req.Submission = sub
		req.DataProvided = body.data != nil
		return nil
	}

	current, err := p.cfg.Submissions.FindByID(ctx, req.Form.ID, req.SubmissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Submission not found.")
	}
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	req.Current = current

	if req.Method != MethodUpdate {
		return nil
	}
	body, err := whitelist(req.Payload)
	if err != nil {
		return err
	}
	sub := current.Clone()
	sub.ID = req.SubmissionID
	if body.data != nil {
		sub.Data = body.data
	}
	if body.metadata != nil {
		sub.Metadata = body.metadata
	}
	if body.access != nil {
		sub.Access = body.access
	}
	if body.owner != nil && (req.Principal.Admin || req.Internal) {
		sub.Owner = body.owner
	}
	req.Submission = sub
	req.DataProvided = body.data != nil
	return nil
}

func (p *Pipeline) initializeActions(ctx context.Context, req *Request) error {
	if p.actions == nil || req.DryRun {
		return nil
	}
	return p.actions.Load(ctx, req)
}

func (p *Pipeline) validateSubmission(ctx context.Context, req *Request) error {
	if req.Method != MethodCreate && req.Method != MethodUpdate {
		return nil
	}
	deps := validator.Deps{
		Submissions: p.cfg.Submissions,
		Forms:       p.cfg.Forms,
		Evaluator:   p.cfg.Evaluator,
		Collation:   p.cfg.Collation,
	}
	if p.cfg.Fetchers != nil {
		deps.Fetcher = p.cfg.Fetchers.For(req.Principal)
	}
	req.Validator = validator.New(req.Form, deps)
	if req.Method == MethodUpdate && !req.DataProvided {
		return nil
	}
	return req.Validator.Validate(ctx, req.Submission)
}

func (p *Pipeline) runBefore(ctx context.Context, req *Request) error {
	if err := p.executeFieldHandlers(ctx, HandlerBefore, req); err != nil {
		return err
	}
	return p.executeActions(ctx, HandlerBefore, req)
}

func (p *Pipeline) runAfter(ctx context.Context, req *Request) error {
	if err := p.executeActions(ctx, HandlerAfter, req); err != nil {
		return err
	}
	return p.executeFieldHandlers(ctx, HandlerAfter, req)
}

func (p *Pipeline) executeActions(ctx context.Context, handler Handler, req *Request) error {
	if p.actions == nil {
		return nil
	}
	return p.actions.Execute(ctx, handler, req)
}

func (p *Pipeline) executeFieldHandlers(ctx context.Context, handler Handler, req *Request) error {
	if handler == HandlerBefore && req.Submission != nil && req.DataProvided {
		stripNonPersistent(req.Components, req.Submission.Data)
	}

	var err error
	component.Each(req.Components, func(c *component.Component, path string) bool {
		if !c.HasData() {
			return true
		}
		for _, key := range hookKeys(c) {
			hooks, ok := p.cfg.Hooks[key]
			if !ok {
				continue
			}
			fn := hooks.stage(handler, req.Method)
			if fn == nil {
				continue
			}
			if err = fn(ctx, c, path, req); err != nil {
				return false
			}
		}
		return true
	})
	return err
}

// hookKeys lists the hook registrations a component triggers, type first.
func hookKeys(c *component.Component) []string {
	keys := []string{c.Type}
	if c.Reference {
		keys = append(keys, "reference")
	}
	if c.Unique {
		keys = append(keys, "unique")
	}
	if c.Protected {
		keys = append(keys, "protected")
	}
	return keys
}

func stripNonPersistent(comps []*component.Component, data map[string]any) {
	component.Each(comps, func(c *component.Component, path string) bool {
		if c.HasData() && !c.IsPersistent() {
			component.DeleteAll(data, path)
		}
		return true
	})
}

func (p *Pipeline) persist(ctx context.Context, req *Request) error {
	if req.SkipResource {
		return nil
	}
	subs := p.cfg.Submissions

	switch req.Method {
	case MethodCreate:
		if err := subs.Create(ctx, req.Submission); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		req.Response = &Response{Status: http.StatusCreated, Item: req.Submission}
	case MethodUpdate:
		if err := subs.Update(ctx, req.Submission); err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		req.Response = &Response{Status: http.StatusOK, Item: req.Submission}
	case MethodDelete:
		if err := subs.Delete(ctx, req.Form.ID, req.Current.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Submission not found.")
			}
			return fmt.Errorf("delete submission: %w", err)
		}
		req.Response = &Response{Status: http.StatusOK, Body: map[string]any{}}
	case MethodRead:
		req.Response = &Response{Status: http.StatusOK, Item: req.Current.Clone()}
	case MethodIndex:
		items, total, err := subs.List(ctx, repository.SubmissionQuery{
			FormID:  req.Form.ID,
			Owner:   req.OwnerScope,
			Filters: req.Query.Filters,
			Sort:    req.Query.Sort,
			Skip:    req.Query.Skip,
			Limit:   req.Query.Limit,
		})
		if err != nil {
			return fmt.Errorf("list submissions: %w", err)
		}
		req.Response = &Response{Status: http.StatusOK, Items: items, Total: total, Skip: req.Query.Skip}
	}
	return nil
}

func ensureResponse(req *Request) *Response {
	if req.Response == nil {
		req.Response = &Response{Status: http.StatusOK, Body: true}
	}
	return req.Response
}

func (p *Pipeline) logFailure(op Operation, err error) {
	log := p.cfg.Log.With("form_id", op.FormID.String(), "method", string(op.Method))
	if op.SubmissionID != uuid.Nil {
		log = log.With("submission_id", op.SubmissionID.String())
	}
	status, ok := apperr.StatusOf(err)
	var verr *validator.ValidationError
	switch {
	case errors.As(err, &verr):
		log.Debug("submission rejected", "errors", len(verr.Details))
	case ok && status < http.StatusInternalServerError:
		log.Debug("submission refused", "status", status, "error", err.Error())
	default:
		log.Error("submission failed", "error", err)
	}
}

package submission_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"formio-api/internal/action"
	"formio-api/internal/apperr"
	"formio-api/internal/fieldaction"
	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/repository/memory"
	"formio-api/internal/sandbox"
	"formio-api/internal/submission"
	"formio-api/internal/validator"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type env struct {
	store    *memory.Store
	pipeline *submission.Pipeline
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithFetchers(t, nil)
}

func newEnvWithFetchers(t *testing.T, fetchers submission.FetcherFactory) *env {
	t.Helper()
	store := memory.New()
	p := submission.NewPipeline(submission.Config{
		Forms:       store.Forms(),
		Submissions: store.Submissions(),
		Tx:          store.TxManager(),
		Evaluator:   sandbox.New(time.Second, logger.Nop()),
		Fetchers:    fetchers,
		Hooks:       fieldaction.Hooks(fieldaction.Deps{Forms: store.Forms(), Submissions: store.Submissions()}),
		Log:         logger.Nop(),
	})
	engine := action.NewEngine(action.DefaultRegistry(), store.Actions(), &action.Deps{
		Forms:       store.Forms(),
		Submissions: store.Submissions(),
		Roles:       store.Roles(),
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
		Log:         logger.Nop(),
	})
	engine.SetProcessor(p)
	p.SetActions(engine)
	return &env{store: store, pipeline: p}
}

func (e *env) form(t *testing.T, name, schema string) *model.Form {
	t.Helper()
	form := &model.Form{Title: name, Name: name, Path: name, Type: model.FormTypeResource, Components: []byte(schema)}
	if err := e.store.Forms().Create(context.Background(), form); err != nil {
		t.Fatalf("create form: %v", err)
	}
	return form
}

func (e *env) action(t *testing.T, formID uuid.UUID, name string, settings map[string]any) {
	t.Helper()
	a := &model.Action{FormID: formID, Name: name, Settings: datatypes.JSONMap(settings)}
	if err := action.DefaultRegistry().ApplyDefaults(a); err != nil {
		t.Fatalf("action defaults: %v", err)
	}
	if err := e.store.Actions().Create(context.Background(), a); err != nil {
		t.Fatalf("create action: %v", err)
	}
}

func (e *env) create(formID uuid.UUID, data map[string]any) (*submission.Response, error) {
	return e.pipeline.Process(context.Background(), submission.Operation{
		FormID:  formID,
		Method:  submission.MethodCreate,
		Payload: map[string]any{"data": data},
	})
}

func (e *env) update(formID, id uuid.UUID, data map[string]any) (*submission.Response, error) {
	return e.pipeline.Process(context.Background(), submission.Operation{
		FormID:       formID,
		Method:       submission.MethodUpdate,
		SubmissionID: id,
		Payload:      map[string]any{"data": data},
	})
}

func (e *env) read(formID, id uuid.UUID) (*submission.Response, error) {
	return e.pipeline.Process(context.Background(), submission.Operation{
		FormID:       formID,
		Method:       submission.MethodRead,
		SubmissionID: id,
	})
}

func (e *env) stored(t *testing.T, formID, id uuid.UUID) *model.Submission {
	t.Helper()
	sub, err := e.store.Submissions().FindByID(context.Background(), formID, id)
	if err != nil {
		t.Fatalf("load stored submission: %v", err)
	}
	return sub
}

func mustCreate(t *testing.T, e *env, formID uuid.UUID, data map[string]any) *model.Submission {
	t.Helper()
	resp, err := e.create(formID, data)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.Item == nil {
		t.Fatalf("create returned no item")
	}
	return resp.Item
}

func validationError(t *testing.T, err error) *validator.ValidationError {
	t.Helper()
	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	return verr
}

func statusOf(err error) int {
	status, _ := apperr.StatusOf(err)
	return status
}

func repositoryQuery(formID uuid.UUID) repository.SubmissionQuery {
	return repository.SubmissionQuery{FormID: formID}
}

package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"formio-api/internal/apperr"
	"formio-api/internal/fieldaction"
	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/repository/memory"
	"formio-api/internal/sandbox"
	"formio-api/internal/submission"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func TestRegistryListOrder(t *testing.T) {
	var names []string
	for _, info := range DefaultRegistry().List() {
		names = append(names, info.Name)
	}
	want := []string{WebhookName, RoleName, SecureUpdateName, ResourceName, DefaultName}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("list: want=%v got=%v", want, names)
	}
}

func TestApplyDefaults(t *testing.T) {
	r := DefaultRegistry()

	a := &model.Action{Name: RoleName}
	if err := r.ApplyDefaults(a); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if a.Priority != 1 || a.Title != "Role Assignment" {
		t.Fatalf("defaults: priority=%d title=%q", a.Priority, a.Title)
	}
	if !reflect.DeepEqual([]string(a.Handler), []string{"after"}) || !reflect.DeepEqual([]string(a.Method), []string{"create"}) {
		t.Fatalf("bindings: handler=%v method=%v", a.Handler, a.Method)
	}

	custom := &model.Action{Name: WebhookName, Method: []string{"delete"}, Priority: 7}
	_ = r.ApplyDefaults(custom)
	if !reflect.DeepEqual([]string(custom.Method), []string{"delete"}) || custom.Priority != 7 {
		t.Fatalf("explicit bindings overwritten: method=%v priority=%d", custom.Method, custom.Priority)
	}

	if err := r.ApplyDefaults(&model.Action{Name: "email"}); err == nil {
		t.Fatalf("unknown action must be rejected")
	}
}

func TestApplyRole(t *testing.T) {
	roles, changed := applyRole([]string{"a"}, "b", RoleAdd)
	if !changed || !reflect.DeepEqual(roles, []string{"a", "b"}) {
		t.Fatalf("add: got=%v changed=%v", roles, changed)
	}
	if _, changed := applyRole([]string{"a"}, "a", RoleAdd); changed {
		t.Fatalf("adding a present role must be a no-op")
	}
	roles, changed = applyRole([]string{"a", "b", "c"}, "b", RoleRemove)
	if !changed || !reflect.DeepEqual(roles, []string{"a", "c"}) {
		t.Fatalf("remove: got=%v changed=%v", roles, changed)
	}
	if _, changed := applyRole(nil, "a", RoleRemove); changed {
		t.Fatalf("removing a missing role must be a no-op")
	}
}

func TestSplitEmbedded(t *testing.T) {
	own, embedded := splitEmbedded(map[string]any{
		"name":       "Ann",
		"user.email": "a@b.com",
		"user.name":  "ann",
		".odd":       1,
	})
	if !reflect.DeepEqual(own, map[string]any{"name": "Ann", ".odd": 1}) {
		t.Fatalf("own: got=%v", own)
	}
	want := map[string]map[string]any{"user": {"email": "a@b.com", "name": "ann"}}
	if !reflect.DeepEqual(embedded, want) {
		t.Fatalf("embedded: want=%v got=%v", want, embedded)
	}
}

type webhookEnv struct {
	store    *memory.Store
	pipeline *submission.Pipeline
	form     *model.Form
}

func newWebhookEnv(t *testing.T, settings map[string]any) *webhookEnv {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	form := &model.Form{Title: "Lead", Name: "lead", Path: "lead", Components: []byte(`[
		{"type":"textfield","key":"name","input":true},
		{"type":"password","key":"pass","input":true}
	]`)}
	if err := store.Forms().Create(ctx, form); err != nil {
		t.Fatalf("create form: %v", err)
	}
	a := &model.Action{FormID: form.ID, Name: WebhookName, Settings: datatypes.JSONMap(settings)}
	if err := DefaultRegistry().ApplyDefaults(a); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if err := store.Actions().Create(ctx, a); err != nil {
		t.Fatalf("create action: %v", err)
	}

	p := submission.NewPipeline(submission.Config{
		Forms:       store.Forms(),
		Submissions: store.Submissions(),
		Tx:          store.TxManager(),
		Evaluator:   sandbox.New(time.Second, logger.Nop()),
		Hooks:       fieldaction.Hooks(fieldaction.Deps{Forms: store.Forms(), Submissions: store.Submissions()}),
		Log:         logger.Nop(),
	})
	engine := NewEngine(DefaultRegistry(), store.Actions(), &Deps{
		Forms:       store.Forms(),
		Submissions: store.Submissions(),
		Roles:       store.Roles(),
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
		Log:         logger.Nop(),
	})
	engine.SetProcessor(p)
	p.SetActions(engine)
	return &webhookEnv{store: store, pipeline: p, form: form}
}

func (e *webhookEnv) create(data map[string]any) (*submission.Response, error) {
	return e.pipeline.Process(context.Background(), submission.Operation{
		FormID:  e.form.ID,
		Method:  submission.MethodCreate,
		Payload: map[string]any{"data": data},
	})
}

func TestWebhookPostsSubmission(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookPayload
		user     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		u, _, _ := r.BasicAuth()
		mu.Lock()
		received = append(received, payload)
		user = u
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newWebhookEnv(t, map[string]any{"url": srv.URL, "username": "hook", "password": "pw"})
	resp, err := e.create(map[string]any{"name": "Ann", "pass": "secret"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("deliveries: want=1 got=%d", len(received))
	}
	got := received[0]
	if got.Request.Method != "create" || got.Request.Form != e.form.ID.String() || user != "hook" {
		t.Fatalf("request: %+v user=%s", got.Request, user)
	}
	if _, ok := got.Request.Data["pass"]; ok {
		t.Fatalf("password leaked in request data: %v", got.Request.Data)
	}
	doc, ok := got.Response.(map[string]any)
	if !ok || doc["_id"] != resp.Item.ID.String() {
		t.Fatalf("response document: %v", got.Response)
	}
	if data := doc["data"].(map[string]any); data["pass"] != nil {
		t.Fatalf("password leaked in response: %v", data)
	}
}

func TestWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newWebhookEnv(t, map[string]any{"url": srv.URL})
	if _, err := e.create(map[string]any{"name": "Ann"}); err != nil {
		t.Fatalf("non blocking webhook failure must not fail the request: %v", err)
	}

	blocking := newWebhookEnv(t, map[string]any{"url": srv.URL, "block": true})
	_, err := blocking.create(map[string]any{"name": "Ann"})
	if status, _ := apperr.StatusOf(err); status != http.StatusBadGateway {
		t.Fatalf("blocking failure: want=502 got=%d (%v)", status, err)
	}
}

func TestInvalidStoredActionIsBadRequest(t *testing.T) {
	e := newWebhookEnv(t, map[string]any{"url": "ftp://nowhere"})
	_, err := e.create(map[string]any{"name": "Ann"})
	if status, _ := apperr.StatusOf(err); status != http.StatusBadRequest {
		t.Fatalf("want=400 got=%d (%v)", status, err)
	}
}

func TestEngineSkipsUnknownActions(t *testing.T) {
	store := memory.New()
	formID := uuid.New()
	if err := store.Actions().Create(context.Background(), &model.Action{FormID: formID, Name: "email", Handler: []string{"after"}, Method: []string{"create"}}); err != nil {
		t.Fatalf("create action: %v", err)
	}
	engine := NewEngine(DefaultRegistry(), store.Actions(), &Deps{Log: logger.Nop()})
	req := &submission.Request{
		Operation: submission.Operation{FormID: formID, Method: submission.MethodCreate},
		Form:      &model.Form{ID: formID},
	}
	if err := engine.Load(context.Background(), req); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(req.Actions) != 1 || req.Actions[0].Name() != DefaultName {
		t.Fatalf("actions: want only the implicit default, got %d", len(req.Actions))
	}
}

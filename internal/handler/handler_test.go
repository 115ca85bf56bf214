package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"formio-api/internal/action"
	"formio-api/internal/auth"
	"formio-api/internal/cache"
	"formio-api/internal/fieldaction"
	"formio-api/internal/logger"
	"formio-api/internal/middleware"
	"formio-api/internal/repository/memory"
	"formio-api/internal/sandbox"
	"formio-api/internal/service"
	"formio-api/internal/submission"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var secret = []byte("test-secret")

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	forms := cache.NewForms(store.Forms(), cache.NewMemoryFormCache(time.Minute, time.Now))
	pipeline := submission.NewPipeline(submission.Config{
		Forms:       forms,
		Submissions: store.Submissions(),
		Tx:          store.TxManager(),
		Evaluator:   sandbox.New(time.Second, logger.Nop()),
		Hooks:       fieldaction.Hooks(fieldaction.Deps{Forms: forms, Submissions: store.Submissions()}),
		Log:         logger.Nop(),
	})
	registry := action.DefaultRegistry()
	engine := action.NewEngine(registry, store.Actions(), &action.Deps{
		Forms:       forms,
		Submissions: store.Submissions(),
		Roles:       store.Roles(),
		HTTPClient:  &http.Client{Timeout: time.Second},
		Log:         logger.Nop(),
	})
	engine.SetProcessor(pipeline)
	pipeline.SetActions(engine)

	authenticator := middleware.NewAuthenticator(secret, store.Roles())
	router := gin.New()
	api := router.Group("")
	api.Use(authenticator.Authenticate())
	NewFormHandler(service.NewFormService(store.Forms(), forms)).RegisterRoutes(api)
	NewActionHandler(service.NewActionService(forms, store.Actions(), registry)).RegisterRoutes(api)
	NewRoleHandler(service.NewRoleService(store.Roles()), authenticator).RegisterRoutes(api)
	NewSubmissionHandler(pipeline).RegisterRoutes(api)
	NewBulkHandler(service.NewBulkService(forms, store.Submissions(), store.TxManager(), pipeline, service.BulkConfig{MaxItems: 10}, logger.Nop())).RegisterRoutes(api)
	return router
}

func adminToken(t *testing.T) string {
	t.Helper()
	id := uuid.New()
	token, err := auth.Issue(secret, &auth.Principal{ID: &id, Admin: true}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func call(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-jwt-token", token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// createForm posts a form as admin and returns its id.
func createForm(t *testing.T, r *gin.Engine, components string) string {
	t.Helper()
	rec := call(r, http.MethodPost, "/form", adminToken(t), map[string]any{
		"title":      "Contact",
		"name":       "contact",
		"path":       "contact",
		"components": json.RawMessage(components),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create form: code=%d body=%s", rec.Code, rec.Body.String())
	}
	var res struct {
		Data struct {
			ID string `json:"_id"`
		} `json:"data"`
	}
	decode(t, rec, &res)
	return res.Data.ID
}

const contactSchema = `[
	{"type":"textfield","key":"name","label":"Name","input":true,"validate":{"required":true}},
	{"type":"textfield","key":"email","label":"Email","input":true,"unique":true}
]`

func TestFormRoutesRequireAdmin(t *testing.T) {
	r := newServer(t)

	if rec := call(r, http.MethodPost, "/form", "", map[string]any{"title": "A", "name": "a", "path": "a"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: want=401 got=%d", rec.Code)
	}
	if rec := call(r, http.MethodPost, "/form", adminToken(t), map[string]any{"name": "a"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing title: want=400 got=%d", rec.Code)
	}

	formID := createForm(t, r, contactSchema)
	if rec := call(r, http.MethodGet, "/form/"+formID, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("public read: want=200 got=%d", rec.Code)
	}
	if rec := call(r, http.MethodGet, "/role", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous roles: want=401 got=%d", rec.Code)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	r := newServer(t)
	formID := createForm(t, r, contactSchema)
	base := "/form/" + formID + "/submission"

	rec := call(r, http.MethodPost, base, "", map[string]any{"data": map[string]any{"email": "a@b.com"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid: want=400 got=%d", rec.Code)
	}
	var verr struct {
		Name    string `json:"name"`
		Details []struct {
			Message string `json:"message"`
		} `json:"details"`
	}
	decode(t, rec, &verr)
	if verr.Name != "ValidationError" || len(verr.Details) != 1 || verr.Details[0].Message != "Name is required" {
		t.Fatalf("validation error: got=%+v", verr)
	}

	rec = call(r, http.MethodPost, base+"?dryrun=1", "", map[string]any{"data": map[string]any{"name": "Dry"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("dryrun: want=200 got=%d", rec.Code)
	}

	ids := make([]string, 0, 3)
	for _, name := range []string{"Ann", "Bob", "Cid"} {
		rec = call(r, http.MethodPost, base, "", map[string]any{"data": map[string]any{"name": name}})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %s: code=%d body=%s", name, rec.Code, rec.Body.String())
		}
		var doc struct {
			ID string `json:"_id"`
		}
		decode(t, rec, &doc)
		ids = append(ids, doc.ID)
	}

	rec = call(r, http.MethodGet, base+"?limit=2&skip=1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("index: want=200 got=%d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "items 1-2/3" {
		t.Fatalf("content-range: want=%q got=%q", "items 1-2/3", got)
	}

	rec = call(r, http.MethodGet, base+"?data.name=Bob", "", nil)
	var found []map[string]any
	decode(t, rec, &found)
	if len(found) != 1 || found[0]["_id"] != ids[1] {
		t.Fatalf("filter: got=%v", found)
	}

	rec = call(r, http.MethodPut, base+"/"+ids[0], "", map[string]any{"data": map[string]any{"name": "Anna"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: code=%d body=%s", rec.Code, rec.Body.String())
	}

	if rec = call(r, http.MethodDelete, base+"/"+ids[0], "", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: want=200 got=%d", rec.Code)
	}
	rec = call(r, http.MethodGet, base+"/"+ids[0], "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("read deleted: want=404 got=%d", rec.Code)
	}
	if rec.Body.String() != "Submission not found." {
		t.Fatalf("not found body: got=%q", rec.Body.String())
	}

	if rec = call(r, http.MethodGet, "/form/"+uuid.NewString()+"/submission", "", nil); rec.Code != http.StatusNotFound || rec.Body.String() != "Form not found." {
		t.Fatalf("missing form: code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestBulkRoutes(t *testing.T) {
	r := newServer(t)
	formID := createForm(t, r, contactSchema)
	path := "/form/" + formID + "/submissions"

	rec := call(r, http.MethodPost, path, "", map[string]any{"data": map[string]any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("object payload: want=400 got=%d", rec.Code)
	}

	rec = call(r, http.MethodPost, path, "", []any{
		map[string]any{"data": map[string]any{"name": "Ann", "email": "x@y.com"}},
		map[string]any{"data": map[string]any{"name": "Bob", "email": "X@y.com"}},
		map[string]any{"data": map[string]any{"name": "Cid"}},
	})
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("bulk create: code=%d body=%s", rec.Code, rec.Body.String())
	}
	var res service.BulkCreateResult
	decode(t, rec, &res)
	if res.InsertedCount != 1 || len(res.Failures) != 2 {
		t.Fatalf("bulk result: %+v", res)
	}
}

func TestActionRoutes(t *testing.T) {
	r := newServer(t)
	formID := createForm(t, r, contactSchema)
	token := adminToken(t)

	rec := call(r, http.MethodGet, "/form/"+formID+"/actions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("types: want=200 got=%d", rec.Code)
	}
	rec = call(r, http.MethodPost, "/form/"+formID+"/action", token, map[string]any{
		"name":     "webhook",
		"settings": map[string]any{"url": "http://localhost:1/hook"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create action: code=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = call(r, http.MethodPost, "/form/"+formID+"/action", token, map[string]any{"name": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: want=400 got=%d", rec.Code)
	}
}

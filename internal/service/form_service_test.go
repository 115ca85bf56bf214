package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"formio-api/internal/action"
	"formio-api/internal/auth"
	"formio-api/internal/cache"
	"formio-api/internal/repository/memory"

	"github.com/google/uuid"
)

func TestFormServiceCreateAndUpdate(t *testing.T) {
	store := memory.New()
	forms := cache.NewForms(store.Forms(), cache.NewMemoryFormCache(time.Minute, time.Now))
	svc := NewFormService(store.Forms(), forms)
	ctx := context.Background()
	owner := uuid.New()

	form, err := svc.CreateForm(ctx, &auth.Principal{ID: &owner}, CreateFormRequest{
		Title:      "User",
		Name:       "user",
		Path:       "/User/",
		Type:       "resource",
		Components: json.RawMessage(`[{"type":"email","key":"email","input":true}]`),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if form.Path != "user" || form.Owner == nil || *form.Owner != owner {
		t.Fatalf("form: path=%q owner=%v", form.Path, form.Owner)
	}

	// Warm the cache, then make sure an update is visible through it.
	if _, err := forms.FindByID(ctx, form.ID); err != nil {
		t.Fatalf("cached read: %v", err)
	}
	title := "Users"
	if _, err := svc.UpdateForm(ctx, form.ID.String(), UpdateFormRequest{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cached, err := forms.FindByID(ctx, form.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cached.Title != "Users" {
		t.Fatalf("cache not invalidated: title=%q", cached.Title)
	}

	_, err = svc.CreateForm(ctx, nil, CreateFormRequest{Title: "Other", Name: "user", Path: "other"})
	if got := statusOf(err); got != http.StatusBadRequest {
		t.Fatalf("duplicate name: want=400 got=%d", got)
	}
	_, err = svc.CreateForm(ctx, nil, CreateFormRequest{Title: "Other", Name: "other", Path: "USER"})
	if got := statusOf(err); got != http.StatusBadRequest {
		t.Fatalf("duplicate path: want=400 got=%d", got)
	}
}

func TestFormServiceRejectsBadDocuments(t *testing.T) {
	store := memory.New()
	svc := NewFormService(store.Forms(), cache.NewForms(store.Forms(), cache.NewMemoryFormCache(time.Minute, time.Now)))
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateFormRequest
	}{
		{"bad name", CreateFormRequest{Title: "A", Name: "a b", Path: "a"}},
		{"blank title", CreateFormRequest{Title: " ", Name: "a", Path: "a"}},
		{"bad components", CreateFormRequest{Title: "A", Name: "a", Path: "a", Components: json.RawMessage(`{"key":"x"}`)}},
		{"duplicate keys", CreateFormRequest{Title: "A", Name: "a", Path: "a", Components: json.RawMessage(`[
			{"type":"textfield","key":"name","input":true},
			{"type":"textfield","key":"name","input":true}
		]`)}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateForm(ctx, nil, tc.req); statusOf(err) != http.StatusBadRequest {
			t.Fatalf("%s: want=400 got=%v", tc.name, err)
		}
	}

	if _, err := svc.GetForm(ctx, uuid.NewString()); statusOf(err) != http.StatusNotFound {
		t.Fatalf("missing form: want=404 got=%v", err)
	}
	if err := svc.DeleteForm(ctx, "not-a-uuid"); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("bad id: want=400 got=%v", err)
	}
}

func TestActionServiceChecksSettings(t *testing.T) {
	store := memory.New()
	forms := cache.NewForms(store.Forms(), cache.NewMemoryFormCache(time.Minute, time.Now))
	formSvc := NewFormService(store.Forms(), forms)
	svc := NewActionService(forms, store.Actions(), action.DefaultRegistry())
	ctx := context.Background()

	form, err := formSvc.CreateForm(ctx, nil, CreateFormRequest{Title: "A", Name: "a", Path: "a"})
	if err != nil {
		t.Fatalf("create form: %v", err)
	}
	formID := form.ID.String()

	if _, err := svc.CreateAction(ctx, formID, ActionRequest{Name: "bogus"}); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("unknown action: want=400 got=%v", err)
	}
	if _, err := svc.CreateAction(ctx, formID, ActionRequest{Name: "webhook", Settings: map[string]any{"url": "ftp://x"}}); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("bad webhook: want=400 got=%v", err)
	}
	if _, err := svc.CreateAction(ctx, formID, ActionRequest{Name: "webhook", Method: []string{"patch"}, Settings: map[string]any{"url": "http://hook"}}); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("bad method: want=400 got=%v", err)
	}

	a, err := svc.CreateAction(ctx, formID, ActionRequest{Name: "webhook", Settings: map[string]any{"url": "http://hook"}})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if len(a.Handler) == 0 || len(a.Method) == 0 || a.Priority == 0 {
		t.Fatalf("defaults not applied: %+v", a)
	}

	list, err := svc.ListActions(ctx, formID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: want=1 got=%d (%v)", len(list), err)
	}
	if err := svc.DeleteAction(ctx, formID, a.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetAction(ctx, formID, a.ID.String()); statusOf(err) != http.StatusNotFound {
		t.Fatalf("deleted action: want=404 got=%v", err)
	}

	info, err := svc.GetType("role")
	if err != nil || info.Name != "role" || len(info.SettingsForm) == 0 {
		t.Fatalf("type info: %+v err=%v", info, err)
	}
	if _, err := svc.GetType("nope"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("unknown type: want=404 got=%v", err)
	}
}

func TestRoleServiceSeedAndProtect(t *testing.T) {
	store := memory.New()
	svc := NewRoleService(store.Roles())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.SeedDefaultRoles(ctx); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	roles, err := svc.ListRoles(ctx)
	if err != nil || len(roles) != 3 {
		t.Fatalf("roles: want=3 got=%d (%v)", len(roles), err)
	}

	if _, err := svc.CreateRole(ctx, CreateRoleRequest{Title: "Administrator"}); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("duplicate title: want=400 got=%v", err)
	}
	editor, err := svc.CreateRole(ctx, CreateRoleRequest{Title: "Editor"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, r := range roles {
		if (r.Admin || r.Default) && statusOf(svc.DeleteRole(ctx, r.ID.String())) != http.StatusBadRequest {
			t.Fatalf("protected role %s deleted", r.Title)
		}
	}
	if err := svc.DeleteRole(ctx, editor.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

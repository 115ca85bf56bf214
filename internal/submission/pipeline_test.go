package submission_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"formio-api/internal/apperr"
	"formio-api/internal/auth"
	"formio-api/internal/fieldaction"
	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/sandbox"
	"formio-api/internal/submission"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func TestUniqueEmailIsCaseInsensitive(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "user", `[{"type":"textfield","key":"email","label":"Email","input":true,"unique":true}]`)

	resp, err := e.create(form.ID, map[string]any{"email": "A@b.com"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Fatalf("status: want=201 got=%d", resp.Status)
	}
	if got := e.stored(t, form.ID, resp.Item.ID).Data["email"]; got != "A@b.com" {
		t.Fatalf("stored email: want=A@b.com got=%v", got)
	}

	_, err = e.create(form.ID, map[string]any{"email": "a@b.com"})
	verr := validationError(t, err)
	if len(verr.Details) != 1 || verr.Details[0].Context.Key != "email" {
		t.Fatalf("details: got=%+v", verr.Details)
	}
	if verr.Details[0].Context.ConflictID != resp.Item.ID.String() {
		t.Fatalf("conflictId: want=%s got=%s", resp.Item.ID, verr.Details[0].Context.ConflictID)
	}

	// Updating the owner of the value in place is allowed.
	if _, err := e.update(form.ID, resp.Item.ID, map[string]any{"email": "a@B.com"}); err != nil {
		t.Fatalf("self update: %v", err)
	}
}

func TestNonPersistentFieldsAreNeverStored(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "contact", `[
		{"type":"textfield","key":"name","input":true},
		{"type":"textfield","key":"confirm","input":true,"persistent":false},
		{"type":"datagrid","key":"rows","input":true,"components":[
			{"type":"textfield","key":"scratch","input":true,"persistent":"client-only"},
			{"type":"textfield","key":"keep","input":true}
		]}
	]`)

	item := mustCreate(t, e, form.ID, map[string]any{
		"name":    "Ann",
		"confirm": "yes",
		"rows":    []any{map[string]any{"scratch": "x", "keep": "y"}},
	})
	stored := e.stored(t, form.ID, item.ID)
	if _, ok := stored.Data["confirm"]; ok {
		t.Fatalf("non persistent value stored: %v", stored.Data)
	}
	row := stored.Data["rows"].([]any)[0].(map[string]any)
	if _, ok := row["scratch"]; ok {
		t.Fatalf("client-only row value stored: %v", row)
	}
	if row["keep"] != "y" {
		t.Fatalf("row keep: want=y got=%v", row["keep"])
	}
}

func TestFetchedValuesAreNeverStored(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rate":1.5}`))
	}))
	defer srv.Close()

	fetchers := fieldaction.NewFetcherFactory(srv.Client(), sandbox.New(time.Second, logger.Nop()), nil, time.Minute)
	e := newEnvWithFetchers(t, fetchers)
	form := e.form(t, "order", `[
		{"type":"datasource","key":"rate","input":true,"trigger":{"server":true},
			"fetch":{"dataSrc":"url","url":"`+srv.URL+`/rate"}},
		{"type":"number","key":"amount","input":true,
			"validate":{"custom":"data.rate?.rate == 1.5 ? true : 'Rate was not fetched'"}}
	]`)

	// The client value is replaced by the fetch, and neither is stored.
	item := mustCreate(t, e, form.ID, map[string]any{"amount": 2, "rate": map[string]any{"rate": 9}})
	if hits.Load() != 1 {
		t.Fatalf("datasource fetches: want=1 got=%d", hits.Load())
	}
	stored := e.stored(t, form.ID, item.ID)
	if _, ok := stored.Data["rate"]; ok {
		t.Fatalf("fetched value stored: %v", stored.Data)
	}
	if stored.Data["amount"] != 2.0 && stored.Data["amount"] != 2 {
		t.Fatalf("amount: want=2 got=%v", stored.Data["amount"])
	}
}

func TestFormNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.create(uuid.New(), map[string]any{})
	if statusOf(err) != http.StatusNotFound || apperr.Message(err) != "Form not found." {
		t.Fatalf("want 404 Form not found., got %v", err)
	}
}

func TestCreateDefaultsDataAndRejectsNonObject(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "empty", `[]`)

	resp, err := e.pipeline.Process(context.Background(), submission.Operation{FormID: form.ID, Method: submission.MethodCreate})
	if err != nil {
		t.Fatalf("create without body: %v", err)
	}
	if resp.Item.Data == nil {
		t.Fatalf("data must default to an empty object")
	}

	_, err = e.pipeline.Process(context.Background(), submission.Operation{
		FormID:  form.ID,
		Method:  submission.MethodCreate,
		Payload: map[string]any{"data": "nope"},
	})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestRequiredFieldFailsValidation(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "req", `[{"type":"textfield","key":"name","label":"Name","input":true,"validate":{"required":true}}]`)

	_, err := e.create(form.ID, map[string]any{})
	verr := validationError(t, err)
	if verr.Details[0].Message != "Name is required" {
		t.Fatalf("message: got=%q", verr.Details[0].Message)
	}
	_, total, _ := e.store.Submissions().List(context.Background(), repositoryQuery(form.ID))
	if total != 0 {
		t.Fatalf("invalid submission stored")
	}
}

func TestDryRunValidatesWithoutWriting(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "dry", `[{"type":"textfield","key":"name","input":true}]`)

	resp, err := e.pipeline.Process(context.Background(), submission.Operation{
		FormID:  form.ID,
		Method:  submission.MethodCreate,
		Payload: map[string]any{"data": map[string]any{"name": "Ann"}},
		DryRun:  true,
	})
	if err != nil {
		t.Fatalf("dryrun: %v", err)
	}
	if resp.Status != http.StatusOK || resp.Item.Data["name"] != "Ann" {
		t.Fatalf("dryrun response: status=%d data=%v", resp.Status, resp.Item.Data)
	}
	_, total, _ := e.store.Submissions().List(context.Background(), repositoryQuery(form.ID))
	if total != 0 {
		t.Fatalf("dryrun stored a submission")
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	e := newEnv(t)
	customers := e.form(t, "customer", `[
		{"type":"textfield","key":"name","input":true},
		{"type":"password","key":"secret","input":true,"protected":true}
	]`)
	orders := e.form(t, "order", fmt.Sprintf(`[
		{"type":"select","key":"customer","input":true,"reference":true,"dataSrc":"resource","data":{"resource":%q}}
	]`, customers.ID))

	customer := mustCreate(t, e, customers.ID, map[string]any{"name": "Ann", "secret": "hunter2"})
	doc := customer.Document()

	order := mustCreate(t, e, orders.ID, map[string]any{"customer": doc})
	if !reflect.DeepEqual(order.Data["customer"], doc) {
		t.Fatalf("create response: want=%v got=%v", doc, order.Data["customer"])
	}

	stored := e.stored(t, orders.ID, order.ID)
	want := map[string]any{"_id": customer.ID.String()}
	if !reflect.DeepEqual(stored.Data["customer"], want) {
		t.Fatalf("stored reference: want=%v got=%v", want, stored.Data["customer"])
	}

	resp, err := e.read(orders.ID, order.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := resp.Item.Data["customer"].(map[string]any)
	if got["_id"] != customer.ID.String() {
		t.Fatalf("read _id: got=%v", got["_id"])
	}
	if !reflect.DeepEqual(got["data"], map[string]any{"name": "Ann"}) {
		t.Fatalf("read data: got=%v", got["data"])
	}

	if err := e.store.Submissions().Delete(context.Background(), customers.ID, customer.ID); err != nil {
		t.Fatalf("delete customer: %v", err)
	}
	resp, err = e.read(orders.ID, order.ID)
	if err != nil {
		t.Fatalf("read after delete: %v", err)
	}
	if !reflect.DeepEqual(resp.Item.Data["customer"], want) {
		t.Fatalf("dangling reference: want=%v got=%v", want, resp.Item.Data["customer"])
	}
}

func TestIndexResolvesReferencesInOneBatch(t *testing.T) {
	e := newEnv(t)
	customers := e.form(t, "customer", `[{"type":"textfield","key":"name","input":true}]`)
	orders := e.form(t, "order", fmt.Sprintf(`[
		{"type":"select","key":"customer","input":true,"reference":true,"dataSrc":"resource","data":{"resource":%q}}
	]`, customers.ID))

	ann := mustCreate(t, e, customers.ID, map[string]any{"name": "Ann"})
	bob := mustCreate(t, e, customers.ID, map[string]any{"name": "Bob"})
	mustCreate(t, e, orders.ID, map[string]any{"customer": map[string]any{"_id": ann.ID.String()}})
	mustCreate(t, e, orders.ID, map[string]any{"customer": map[string]any{"_id": bob.ID.String()}})

	resp, err := e.pipeline.Process(context.Background(), submission.Operation{
		FormID: orders.ID,
		Method: submission.MethodIndex,
		Query:  submission.IndexQuery{Sort: "created"},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if resp.Total != 2 || len(resp.Items) != 2 {
		t.Fatalf("index size: total=%d items=%d", resp.Total, len(resp.Items))
	}
	names := []any{}
	for _, item := range resp.Items {
		ref := item.Data["customer"].(map[string]any)
		names = append(names, ref["data"].(map[string]any)["name"])
	}
	if !reflect.DeepEqual(names, []any{"Ann", "Bob"}) {
		t.Fatalf("resolved names: got=%v", names)
	}
}

func TestPasswordIsHashedAndProtected(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "account", `[
		{"type":"textfield","key":"name","input":true},
		{"type":"password","key":"pass","input":true,"protected":true}
	]`)

	item := mustCreate(t, e, form.ID, map[string]any{"name": "Ann", "pass": "secret"})
	if _, ok := item.Data["pass"]; ok {
		t.Fatalf("password returned in response: %v", item.Data)
	}
	stored := e.stored(t, form.ID, item.ID).Data["pass"].(string)
	if !auth.IsHash(stored) || !auth.ComparePassword(stored, "secret") {
		t.Fatalf("stored password is not a bcrypt hash of the input: %q", stored)
	}

	// An update without a password keeps the stored hash.
	if _, err := e.update(form.ID, item.ID, map[string]any{"name": "Bob"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := e.stored(t, form.ID, item.ID).Data["pass"]; got != stored {
		t.Fatalf("hash changed: want=%s got=%v", stored, got)
	}
}

func TestSecureSubmissionUpdate(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "profile", `[
		{"type":"textfield","key":"name","input":true},
		{"type":"password","key":"pass","input":true,"protected":true}
	]`)
	e.action(t, form.ID, "secureSubmissionUpdate", map[string]any{"password": "pass"})

	item := mustCreate(t, e, form.ID, map[string]any{"name": "Ann", "pass": "secret"})

	resp, err := e.update(form.ID, item.ID, map[string]any{"name": "Bob", "pass": "secret"})
	if err != nil {
		t.Fatalf("update with correct password: %v", err)
	}
	if resp.Status != http.StatusOK || resp.Item.Data["name"] != "Bob" {
		t.Fatalf("update response: status=%d data=%v", resp.Status, resp.Item.Data)
	}

	_, err = e.update(form.ID, item.ID, map[string]any{"name": "Eve", "pass": "wrong"})
	if statusOf(err) != http.StatusForbidden || apperr.Message(err) != "Change not allowed: Incorrect password" {
		t.Fatalf("want 403 incorrect password, got %v", err)
	}
	_, err = e.update(form.ID, item.ID, map[string]any{"name": "Eve"})
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("missing password: want 403, got %v", err)
	}
	if got := e.stored(t, form.ID, item.ID).Data["name"]; got != "Bob" {
		t.Fatalf("refused update was stored: name=%v", got)
	}
}

func TestSecureSubmissionUpdateMisconfigured(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "profile", `[{"type":"textfield","key":"name","input":true}]`)
	e.action(t, form.ID, "secureSubmissionUpdate", map[string]any{})
	item := mustCreate(t, e, form.ID, map[string]any{"name": "Ann"})

	_, err := e.update(form.ID, item.ID, map[string]any{"name": "Bob"})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
	_, err = e.update(form.ID, uuid.New(), map[string]any{"name": "Bob"})
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
}

func TestDefaultActionSplitsEmbeddedResources(t *testing.T) {
	e := newEnv(t)
	users := e.form(t, "user", `[{"type":"email","key":"email","input":true}]`)
	reg := e.form(t, "registration", `[
		{"type":"email","key":"user.email","input":true},
		{"type":"textfield","key":"note","input":true}
	]`)

	item := mustCreate(t, e, reg.ID, map[string]any{"user.email": "a@b.com", "note": "hi"})
	ref, ok := item.Data["user"].(map[string]any)
	if !ok {
		t.Fatalf("missing user reference: %v", item.Data)
	}
	if _, ok := item.Data["user.email"]; ok {
		t.Fatalf("embedded key kept on the submission: %v", item.Data)
	}
	userID := uuid.MustParse(ref["_id"].(string))
	if got := e.stored(t, users.ID, userID).Data["email"]; got != "a@b.com" {
		t.Fatalf("user email: want=a@b.com got=%v", got)
	}

	// Only embedded fields: the submission's own data is left alone.
	if _, err := e.update(reg.ID, item.ID, map[string]any{"user.email": "z@b.com"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	stored := e.stored(t, reg.ID, item.ID)
	if stored.Data["note"] != "hi" {
		t.Fatalf("note cleared by embedded-only update: %v", stored.Data)
	}
	if got := e.stored(t, users.ID, userID).Data["email"]; got != "z@b.com" {
		t.Fatalf("user email after update: want=z@b.com got=%v", got)
	}

	// An explicit empty object still clears the data.
	if _, err := e.update(reg.ID, item.ID, map[string]any{}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := e.stored(t, reg.ID, item.ID).Data; len(got) != 0 {
		t.Fatalf("intentional clear: want empty data got=%v", got)
	}
}

func TestEmbeddedResourceFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	users := e.form(t, "user", `[{"type":"email","key":"email","label":"Email","input":true}]`)
	reg := e.form(t, "registration", `[
		{"type":"textfield","key":"user.email","input":true},
		{"type":"textfield","key":"note","input":true}
	]`)

	_, err := e.create(reg.ID, map[string]any{"user.email": "not-an-email", "note": "hi"})
	validationError(t, err)
	for _, formID := range []uuid.UUID{users.ID, reg.ID} {
		_, total, _ := e.store.Submissions().List(context.Background(), repositoryQuery(formID))
		if total != 0 {
			t.Fatalf("form %s kept %d submissions after failure", formID, total)
		}
	}
}

func TestResourceActionCreatesLinkedSubmissionWithRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := &model.Role{Title: "member"}
	if err := e.store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	accounts := e.form(t, "account", `[{"type":"email","key":"email","input":true}]`)
	signup := e.form(t, "signup", `[{"type":"email","key":"mail","input":true}]`)
	e.action(t, signup.ID, "resource", map[string]any{
		"resource": accounts.ID.String(),
		"fields":   map[string]any{"email": "mail"},
		"role":     role.ID.String(),
	})

	item := mustCreate(t, e, signup.ID, map[string]any{"mail": "a@b.com"})
	linked, ok := item.ExternalIDFor("resource", accounts.ID.String())
	if !ok {
		t.Fatalf("no externalId recorded: %+v", item.ExternalIDs)
	}
	account := e.stored(t, accounts.ID, uuid.MustParse(linked))
	if account.Data["email"] != "a@b.com" {
		t.Fatalf("mapped field: want=a@b.com got=%v", account.Data["email"])
	}
	if !account.HasRole(role.ID.String()) {
		t.Fatalf("role not assigned: %v", account.Roles)
	}
	if _, ok := e.stored(t, signup.ID, item.ID).ExternalIDFor("resource", accounts.ID.String()); !ok {
		t.Fatalf("externalId not persisted")
	}
}

func TestResourceActionExistingDisablesDefault(t *testing.T) {
	e := newEnv(t)
	accounts := e.form(t, "account", `[{"type":"textfield","key":"name","input":true}]`)
	edit := e.form(t, "edit", fmt.Sprintf(`[
		{"type":"select","key":"account","input":true,"dataSrc":"resource","data":{"resource":%q}},
		{"type":"textfield","key":"name","input":true}
	]`, accounts.ID))
	e.action(t, edit.ID, "resource", map[string]any{
		"resource":    accounts.ID.String(),
		"fields":      map[string]any{"name": "name"},
		"association": "existing",
		"property":    "account",
	})

	account := mustCreate(t, e, accounts.ID, map[string]any{"name": "Ann"})
	resp, err := e.create(edit.ID, map[string]any{
		"account": map[string]any{"_id": account.ID.String()},
		"name":    "Bob",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.Item == nil || resp.Item.ID != account.ID {
		t.Fatalf("response must be the updated resource: %+v", resp.Item)
	}
	if got := e.stored(t, accounts.ID, account.ID).Data["name"]; got != "Bob" {
		t.Fatalf("existing resource name: want=Bob got=%v", got)
	}
	_, total, _ := e.store.Submissions().List(context.Background(), repositoryQuery(edit.ID))
	if total != 0 {
		t.Fatalf("existing association must not store the submission itself")
	}
}

func TestRoleActionAddsRoleAfterCreate(t *testing.T) {
	e := newEnv(t)
	role := &model.Role{Title: "customer"}
	if err := e.store.Roles().Create(context.Background(), role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	form := e.form(t, "member", `[{"type":"textfield","key":"name","input":true}]`)
	e.action(t, form.ID, "role", map[string]any{"role": role.ID.String()})

	item := mustCreate(t, e, form.ID, map[string]any{"name": "Ann"})
	if !item.HasRole(role.ID.String()) {
		t.Fatalf("response roles: %v", item.Roles)
	}
	if !e.stored(t, form.ID, item.ID).HasRole(role.ID.String()) {
		t.Fatalf("stored roles missing the assigned role")
	}
}

func TestAccessRules(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "private", `[{"type":"textfield","key":"name","input":true}]`)
	form.SubmissionAccess = datatypes.JSONSlice[model.PermissionRule]{
		{Type: "create_own", Roles: []string{"authenticated"}},
		{Type: "read_own", Roles: []string{"authenticated"}},
	}
	if err := e.store.Forms().Update(context.Background(), form); err != nil {
		t.Fatalf("update form: %v", err)
	}

	ownerID, otherID := uuid.New(), uuid.New()
	owner := &auth.Principal{ID: &ownerID, Roles: []string{"authenticated"}}
	other := &auth.Principal{ID: &otherID, Roles: []string{"authenticated"}}
	run := func(p *auth.Principal, method submission.Method, id uuid.UUID) (*submission.Response, error) {
		return e.pipeline.Process(context.Background(), submission.Operation{
			FormID:       form.ID,
			Method:       method,
			SubmissionID: id,
			Principal:    p,
			Payload:      map[string]any{"data": map[string]any{"name": "x"}},
		})
	}

	if _, err := run(nil, submission.MethodCreate, uuid.Nil); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("anonymous create: want 401 got %v", err)
	}
	resp, err := run(owner, submission.MethodCreate, uuid.Nil)
	if err != nil {
		t.Fatalf("owner create: %v", err)
	}
	id := resp.Item.ID
	if resp.Item.Owner == nil || *resp.Item.Owner != ownerID {
		t.Fatalf("owner not recorded: %v", resp.Item.Owner)
	}
	if _, err := run(owner, submission.MethodRead, id); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := run(other, submission.MethodRead, id); statusOf(err) != http.StatusForbidden {
		t.Fatalf("other read: want 403 got %v", err)
	}
	if _, err := run(owner, submission.MethodUpdate, id); statusOf(err) != http.StatusForbidden {
		t.Fatalf("update without update permission: want 403 got %v", err)
	}

	if _, err := run(other, submission.MethodCreate, uuid.Nil); err != nil {
		t.Fatalf("other create: %v", err)
	}
	index, err := run(owner, submission.MethodIndex, uuid.Nil)
	if err != nil {
		t.Fatalf("owner index: %v", err)
	}
	if index.Total != 1 {
		t.Fatalf("read_own index: want=1 got=%d", index.Total)
	}
	admin := &auth.Principal{Admin: true}
	index, err = run(admin, submission.MethodIndex, uuid.Nil)
	if err != nil || index.Total != 2 {
		t.Fatalf("admin index: total=%v err=%v", index, err)
	}
}

func TestDeleteIsSoftAndEnsuresResponse(t *testing.T) {
	e := newEnv(t)
	form := e.form(t, "note", `[{"type":"textfield","key":"text","input":true}]`)
	item := mustCreate(t, e, form.ID, map[string]any{"text": "x"})

	resp, err := e.pipeline.Process(context.Background(), submission.Operation{
		FormID:       form.ID,
		Method:       submission.MethodDelete,
		SubmissionID: item.ID,
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("delete status: want=200 got=%d", resp.Status)
	}
	if _, err := e.read(form.ID, item.ID); statusOf(err) != http.StatusNotFound {
		t.Fatalf("read after delete: want 404 got %v", err)
	}
}

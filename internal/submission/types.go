package submission

import (
	"context"

	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/processor"
	"formio-api/internal/repository"
	"formio-api/internal/validator"

	"github.com/google/uuid"
)

// Method is the CRUD verb an operation runs.
type Method string

const (
	MethodCreate Method = "create"
	MethodRead   Method = "read"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
	MethodIndex  Method = "index"
)

// Methods lists every method in canonical order.
var Methods = []Method{MethodCreate, MethodRead, MethodUpdate, MethodDelete, MethodIndex}

// Writes reports whether the method changes stored data.
func (m Method) Writes() bool {
	return m == MethodCreate || m == MethodUpdate || m == MethodDelete
}

// Handler is the phase of the pipeline an action runs in.
type Handler string

const (
	HandlerBefore Handler = "before"
	HandlerAfter  Handler = "after"
)

// IndexQuery scopes an index operation.
type IndexQuery struct {
	Skip    int
	Limit   int
	Sort    string
	Filters []repository.FieldFilter
}

// Operation is one submission request, either from a client or issued
// internally by an action on behalf of its parent request.
type Operation struct {
	FormID       uuid.UUID
	Method       Method
	SubmissionID uuid.UUID
	// Payload is the raw request body; only data, owner, access and
	// metadata are read from it.
	Payload   map[string]any
	Query     IndexQuery
	Principal *auth.Principal
	DryRun    bool
	// Internal operations skip access checks.
	Internal bool
	Depth    int
}

// Response is what the pipeline hands back to its caller.
type Response struct {
	Status int
	Item   *model.Submission
	Items  []model.Submission
	Total  int64
	Skip   int
	// Body replaces the item when an action answers the request itself.
	Body any
}

// Request carries one operation through the pipeline stages.
type Request struct {
	Operation

	Form       *model.Form
	Components []*component.Component
	// Current is the stored submission for read, update and delete.
	Current *model.Submission
	// Submission is the document that will be written.
	Submission *model.Submission
	// DataProvided is false when a write body carried no data key.
	DataProvided bool
	Validator    *validator.Validator

	Actions              []Action
	DisableDefaultAction bool
	// SkipResource suppresses the storage step.
	SkipResource bool
	// OwnerScope limits index results to one owner.
	OwnerScope *uuid.UUID

	Stash    map[string]any
	Response *Response
}

// Sub builds the operation an action issues on behalf of req.
func (r *Request) Sub(formID uuid.UUID, method Method, payload map[string]any) Operation {
	return Operation{
		FormID:    formID,
		Method:    method,
		Payload:   payload,
		Principal: r.Principal,
		Internal:  true,
		Depth:     r.Depth + 1,
	}
}

// PlaintextKey is the stash key holding the submitted plaintext of a
// password field before it is hashed.
func PlaintextKey(path string) string {
	return "password:" + path
}

// Put stores a transient value that lives for the request only.
func (r *Request) Put(key string, v any) {
	if r.Stash == nil {
		r.Stash = map[string]any{}
	}
	r.Stash[key] = v
}

func (r *Request) Get(key string) (any, bool) {
	v, ok := r.Stash[key]
	return v, ok
}

// Data returns the data map hooks operate on for the current stage.
func (r *Request) Data() map[string]any {
	if r.Submission != nil {
		return r.Submission.Data
	}
	if r.Response != nil && r.Response.Item != nil {
		return r.Response.Item.Data
	}
	return nil
}

// Action is a configured unit of business logic bound to form events.
type Action interface {
	Name() string
	Priority() int
	Triggers(handler Handler, method Method) bool
	Resolve(ctx context.Context, handler Handler, method Method, req *Request) error
}

// ActionRunner loads and executes the actions of a form.
type ActionRunner interface {
	Load(ctx context.Context, req *Request) error
	Execute(ctx context.Context, handler Handler, req *Request) error
}

// Processor runs operations; actions use it for nested submissions.
type Processor interface {
	Process(ctx context.Context, op Operation) (*Response, error)
}

// FieldHandler runs for one component at one lifecycle stage.
type FieldHandler func(ctx context.Context, c *component.Component, path string, req *Request) error

// FieldHooks groups the handlers a component type reacts to.
type FieldHooks struct {
	BeforeGet  FieldHandler
	BeforePost FieldHandler
	BeforePut  FieldHandler
	AfterGet   FieldHandler
	AfterPost  FieldHandler
	AfterPut   FieldHandler
	AfterIndex FieldHandler
}

func (h FieldHooks) stage(handler Handler, method Method) FieldHandler {
	switch {
	case handler == HandlerBefore && method == MethodRead:
		return h.BeforeGet
	case handler == HandlerBefore && method == MethodCreate:
		return h.BeforePost
	case handler == HandlerBefore && method == MethodUpdate:
		return h.BeforePut
	case handler == HandlerAfter && method == MethodRead:
		return h.AfterGet
	case handler == HandlerAfter && method == MethodCreate:
		return h.AfterPost
	case handler == HandlerAfter && method == MethodUpdate:
		return h.AfterPut
	case handler == HandlerAfter && method == MethodIndex:
		return h.AfterIndex
	}
	return nil
}

// FetcherFactory builds a datasource fetcher acting for a principal.
type FetcherFactory interface {
	For(p *auth.Principal) processor.Fetcher
}

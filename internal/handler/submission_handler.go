package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"formio-api/internal/apperr"
	"formio-api/internal/middleware"
	"formio-api/internal/model"
	"formio-api/internal/repository"
	"formio-api/internal/submission"
	"formio-api/pkg/pagination"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubmissionProcessor runs one submission operation.
type SubmissionProcessor interface {
	Process(ctx context.Context, op submission.Operation) (*submission.Response, error)
}

type SubmissionHandler struct {
	processor SubmissionProcessor
}

func NewSubmissionHandler(processor SubmissionProcessor) *SubmissionHandler {
	return &SubmissionHandler{processor: processor}
}

func (h *SubmissionHandler) RegisterRoutes(router *gin.RouterGroup) {
	subs := router.Group("/form/:formId/submission")
	{
		subs.GET("", h.Index)
		subs.POST("", h.Create)
		subs.GET("/:submissionId", h.Read)
		subs.PUT("/:submissionId", h.Update)
		subs.DELETE("/:submissionId", h.Delete)
	}
}

// Index lists the submissions of a form
// @Summary      List submissions
// @Tags         submissions
// @Produce      json
// @Param        formId  path      string  true   "Form ID"
// @Param        limit   query     int     false  "Items per page (default: 10)"
// @Param        skip    query     int     false  "Items to skip"
// @Param        sort    query     string  false  "Sort fields, e.g. -created"
// @Success      200     {array}   model.Submission
// @Header       200     {string}  Content-Range  "items a-b/total"
// @Router       /form/{formId}/submission [get]
func (h *SubmissionHandler) Index(c *gin.Context) {
	op, ok := h.operation(c, submission.MethodIndex)
	if !ok {
		return
	}
	w := pagination.ParseWindow(c)
	op.Query = submission.IndexQuery{
		Skip:    w.Skip,
		Limit:   w.Limit,
		Sort:    c.Query("sort"),
		Filters: queryFilters(c),
	}

	resp, err := h.processor.Process(c.Request.Context(), op)
	if err != nil {
		respondSubmissionError(c, err)
		return
	}
	if resp.Body != nil {
		c.JSON(resp.Status, resp.Body)
		return
	}
	items := resp.Items
	if items == nil {
		items = []model.Submission{}
	}
	c.Header("Content-Range", pagination.ContentRange(resp.Skip, len(items), resp.Total))
	c.JSON(resp.Status, items)
}

// Create stores a new submission
// @Summary      Create submission
// @Tags         submissions
// @Accept       json
// @Produce      json
// @Param        formId  path      string  true   "Form ID"
// @Param        dryrun  query     bool    false  "Validate only"
// @Success      201     {object}  model.Submission
// @Failure      400     {object}  validator.ValidationError
// @Router       /form/{formId}/submission [post]
func (h *SubmissionHandler) Create(c *gin.Context) {
	h.write(c, submission.MethodCreate)
}

func (h *SubmissionHandler) Update(c *gin.Context) {
	h.write(c, submission.MethodUpdate)
}

func (h *SubmissionHandler) Read(c *gin.Context) {
	op, ok := h.operation(c, submission.MethodRead)
	if !ok {
		return
	}
	h.respond(c, op)
}

func (h *SubmissionHandler) Delete(c *gin.Context) {
	op, ok := h.operation(c, submission.MethodDelete)
	if !ok {
		return
	}
	h.respond(c, op)
}

func (h *SubmissionHandler) write(c *gin.Context, method submission.Method) {
	op, ok := h.operation(c, method)
	if !ok {
		return
	}
	payload, err := readObject(c)
	if err != nil {
		respondSubmissionError(c, err)
		return
	}
	op.Payload = payload
	op.DryRun = truthy(c.Query("dryrun"))
	h.respond(c, op)
}

func (h *SubmissionHandler) respond(c *gin.Context, op submission.Operation) {
	resp, err := h.processor.Process(c.Request.Context(), op)
	if err != nil {
		respondSubmissionError(c, err)
		return
	}
	switch {
	case resp.Body != nil:
		c.JSON(resp.Status, resp.Body)
	case resp.Item != nil:
		c.JSON(resp.Status, resp.Item)
	default:
		c.Status(resp.Status)
	}
}

// operation reads the route ids and the caller into an operation
func (h *SubmissionHandler) operation(c *gin.Context, method submission.Method) (submission.Operation, bool) {
	op := submission.Operation{Method: method, Principal: middleware.PrincipalFrom(c)}
	formID, err := uuid.Parse(c.Param("formId"))
	if err != nil {
		respondSubmissionError(c, apperr.NotFound("Form not found."))
		return op, false
	}
	op.FormID = formID
	if raw := c.Param("submissionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondSubmissionError(c, apperr.NotFound("Submission not found."))
			return op, false
		}
		op.SubmissionID = id
	}
	return op, true
}

// Helper: an empty body reads as an empty object
func readObject(c *gin.Context) (map[string]any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, apperr.BadRequest("Failed to read request body")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperr.BadRequest("Request body must be a JSON object")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// Helper: data.<path>, owner and _id query parameters become equality filters
func queryFilters(c *gin.Context) []repository.FieldFilter {
	var filters []repository.FieldFilter
	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "owner" || key == "_id" || strings.HasPrefix(key, "data.") {
			filters = append(filters, repository.FieldFilter{Path: key, Value: values[0]})
		}
	}
	return filters
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

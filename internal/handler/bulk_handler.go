package handler

import (
	"encoding/json"

	"formio-api/internal/apperr"
	"formio-api/internal/middleware"
	"formio-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type BulkHandler struct {
	bulkService service.BulkService
}

func NewBulkHandler(bulkService service.BulkService) *BulkHandler {
	return &BulkHandler{bulkService: bulkService}
}

func (h *BulkHandler) RegisterRoutes(router *gin.RouterGroup) {
	bulk := router.Group("/form/:formId/submissions")
	{
		bulk.POST("", h.Create)
		bulk.PUT("", h.Upsert)
	}
}

// Create inserts a batch of submissions
// @Summary      Bulk create submissions
// @Tags         submissions
// @Accept       json
// @Produce      json
// @Param        formId  path      string  true  "Form ID"
// @Success      201     {object}  service.BulkCreateResult
// @Success      207     {object}  service.BulkCreateResult
// @Failure      400     {object}  service.BulkCreateResult
// @Router       /form/{formId}/submissions [post]
func (h *BulkHandler) Create(c *gin.Context) {
	formID, payload, ok := h.read(c)
	if !ok {
		return
	}
	res, status, err := h.bulkService.Create(c.Request.Context(), formID, middleware.PrincipalFrom(c), payload)
	if err != nil {
		respondSubmissionError(c, err)
		return
	}
	c.JSON(status, res)
}

// Upsert inserts new submissions and replaces those whose _id exists
// @Summary      Bulk upsert submissions
// @Tags         submissions
// @Accept       json
// @Produce      json
// @Param        formId  path      string  true  "Form ID"
// @Success      200     {object}  service.BulkUpsertResult
// @Success      207     {object}  service.BulkUpsertResult
// @Router       /form/{formId}/submissions [put]
func (h *BulkHandler) Upsert(c *gin.Context) {
	formID, payload, ok := h.read(c)
	if !ok {
		return
	}
	res, status, err := h.bulkService.Upsert(c.Request.Context(), formID, middleware.PrincipalFrom(c), payload)
	if err != nil {
		respondSubmissionError(c, err)
		return
	}
	c.JSON(status, res)
}

func (h *BulkHandler) read(c *gin.Context) (uuid.UUID, any, bool) {
	formID, err := uuid.Parse(c.Param("formId"))
	if err != nil {
		respondSubmissionError(c, apperr.NotFound("Form not found."))
		return uuid.Nil, nil, false
	}
	raw, err := c.GetRawData()
	if err != nil {
		respondSubmissionError(c, apperr.BadRequest("Failed to read request body"))
		return uuid.Nil, nil, false
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		respondSubmissionError(c, apperr.BadRequest("Bulk submission payload must be a non-empty array"))
		return uuid.Nil, nil, false
	}
	return formID, payload, true
}

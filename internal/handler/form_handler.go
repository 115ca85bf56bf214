package handler

import (
	"net/http"

	"formio-api/internal/middleware"
	"formio-api/internal/service"
	"formio-api/pkg/pagination"
	"formio-api/pkg/response"

	"github.com/gin-gonic/gin"
)

type FormHandler struct {
	formService service.FormService
}

func NewFormHandler(formService service.FormService) *FormHandler {
	return &FormHandler{formService: formService}
}

func (h *FormHandler) RegisterRoutes(router *gin.RouterGroup) {
	forms := router.Group("/form")
	{
		forms.GET("", h.ListForms)
		forms.GET("/:formId", h.GetForm)
		forms.POST("", middleware.RequireAdmin(), h.CreateForm)
		forms.PUT("/:formId", middleware.RequireAdmin(), h.UpdateForm)
		forms.DELETE("/:formId", middleware.RequireAdmin(), h.DeleteForm)
	}
}

// ListForms returns paginated forms
// @Summary      List forms
// @Tags         forms
// @Produce      json
// @Param        page   query     int     false  "Page number (default: 1)"
// @Param        limit  query     int     false  "Items per page (default: 20)"
// @Param        type   query     string  false  "Filter by type: form, resource"
// @Success      200    {object}  response.Response
// @Router       /form [get]
func (h *FormHandler) ListForms(c *gin.Context) {
	p := pagination.Parse(c)
	forms, total, err := h.formService.ListForms(c.Request.Context(), service.FormListQuery{
		Type:   c.Query("type"),
		Offset: p.Offset,
		Limit:  p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(http.StatusOK, forms, total, p.Page, p.Limit))
}

// GetForm returns a single form
// @Summary      Get form
// @Tags         forms
// @Produce      json
// @Param        formId  path      string  true  "Form ID"
// @Success      200     {object}  response.Response
// @Failure      404     {object}  response.Response
// @Router       /form/{formId} [get]
func (h *FormHandler) GetForm(c *gin.Context) {
	form, err := h.formService.GetForm(c.Request.Context(), c.Param("formId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, form))
}

// CreateForm creates a form or resource
// @Summary      Create form
// @Tags         forms
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body  body      service.CreateFormRequest  true  "Form"
// @Success      201   {object}  response.Response
// @Failure      400   {object}  response.Response
// @Router       /form [post]
func (h *FormHandler) CreateForm(c *gin.Context) {
	var req service.CreateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	form, err := h.formService.CreateForm(c.Request.Context(), middleware.PrincipalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, form))
}

// UpdateForm changes a form; omitted fields are kept
func (h *FormHandler) UpdateForm(c *gin.Context) {
	var req service.UpdateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	form, err := h.formService.UpdateForm(c.Request.Context(), c.Param("formId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, form))
}

func (h *FormHandler) DeleteForm(c *gin.Context) {
	if err := h.formService.DeleteForm(c.Request.Context(), c.Param("formId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Form deleted successfully"}))
}

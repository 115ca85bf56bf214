package handler

import (
	"net/http"

	"formio-api/internal/middleware"
	"formio-api/internal/service"
	"formio-api/pkg/response"

	"github.com/gin-gonic/gin"
)

type ActionHandler struct {
	actionService service.ActionService
}

func NewActionHandler(actionService service.ActionService) *ActionHandler {
	return &ActionHandler{actionService: actionService}
}

func (h *ActionHandler) RegisterRoutes(router *gin.RouterGroup) {
	actions := router.Group("/form/:formId")
	actions.Use(middleware.RequireAdmin())
	{
		actions.GET("/action", h.ListActions)
		actions.POST("/action", h.CreateAction)
		actions.GET("/action/:actionId", h.GetAction)
		actions.PUT("/action/:actionId", h.UpdateAction)
		actions.DELETE("/action/:actionId", h.DeleteAction)

		// Available action types
		actions.GET("/actions", h.ListTypes)
		actions.GET("/actions/:name", h.GetType)
	}
}

// ListActions returns the actions attached to a form
// @Summary      List form actions
// @Tags         actions
// @Security     BearerAuth
// @Produce      json
// @Param        formId  path      string  true  "Form ID"
// @Success      200     {object}  response.Response
// @Router       /form/{formId}/action [get]
func (h *ActionHandler) ListActions(c *gin.Context) {
	actions, err := h.actionService.ListActions(c.Request.Context(), c.Param("formId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, actions))
}

func (h *ActionHandler) GetAction(c *gin.Context) {
	a, err := h.actionService.GetAction(c.Request.Context(), c.Param("formId"), c.Param("actionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, a))
}

// CreateAction attaches an action to a form
// @Summary      Create form action
// @Tags         actions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        formId  path      string                 true  "Form ID"
// @Param        body    body      service.ActionRequest  true  "Action"
// @Success      201     {object}  response.Response
// @Failure      400     {object}  response.Response
// @Router       /form/{formId}/action [post]
func (h *ActionHandler) CreateAction(c *gin.Context) {
	var req service.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	a, err := h.actionService.CreateAction(c.Request.Context(), c.Param("formId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, a))
}

func (h *ActionHandler) UpdateAction(c *gin.Context) {
	var req service.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	a, err := h.actionService.UpdateAction(c.Request.Context(), c.Param("formId"), c.Param("actionId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, a))
}

func (h *ActionHandler) DeleteAction(c *gin.Context) {
	if err := h.actionService.DeleteAction(c.Request.Context(), c.Param("formId"), c.Param("actionId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Action deleted successfully"}))
}

// ListTypes returns every action type that can be attached
func (h *ActionHandler) ListTypes(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.actionService.ListTypes()))
}

// GetType returns one action type with its settings form
func (h *ActionHandler) GetType(c *gin.Context) {
	info, err := h.actionService.GetType(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, info))
}

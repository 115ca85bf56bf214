package handler

import (
	"net/http"

	"formio-api/internal/middleware"
	"formio-api/internal/service"
	"formio-api/pkg/response"

	"github.com/gin-gonic/gin"
)

// RoleCacheClearer forgets cached role lookups after a role changed.
type RoleCacheClearer interface {
	ClearRoleCache()
}

type RoleHandler struct {
	roleService service.RoleService
	cache       RoleCacheClearer
}

func NewRoleHandler(roleService service.RoleService, cache RoleCacheClearer) *RoleHandler {
	return &RoleHandler{roleService: roleService, cache: cache}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/role")
	roles.Use(middleware.RequireAdmin())
	{
		roles.GET("", h.ListRoles)
		roles.GET("/:roleId", h.GetRole)
		roles.POST("", h.CreateRole)
		roles.PUT("/:roleId", h.UpdateRole)
		roles.DELETE("/:roleId", h.DeleteRole)
	}
}

// ListRoles returns all roles
// @Summary      List roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /role [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.ListRoles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// GetRole returns a single role by ID
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roleService.GetRole(c.Request.Context(), c.Param("roleId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// CreateRole creates a new role
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	role, err := h.roleService.CreateRole(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.ClearRoleCache()
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole updates a role's title, description and flags
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req service.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	role, err := h.roleService.UpdateRole(c.Request.Context(), c.Param("roleId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.ClearRoleCache()
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// DeleteRole deletes a role (admin and default roles cannot be deleted)
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.roleService.DeleteRole(c.Request.Context(), c.Param("roleId")); err != nil {
		respondError(c, err)
		return
	}
	h.cache.ClearRoleCache()
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Role deleted successfully"}))
}

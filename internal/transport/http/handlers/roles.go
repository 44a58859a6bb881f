package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/usecase"
)

// RoleHandler exposes role management endpoints.
type RoleHandler struct {
	roles *usecase.RoleService
}

// NewRoleHandler constructs RoleHandler.
func NewRoleHandler(roles *usecase.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// RegisterRoutes binds routes under /v1. Every route requires authentication.
func (h *RoleHandler) RegisterRoutes(r *gin.RouterGroup, auth gin.HandlerFunc) {
	r.PUT("/roles/:name", auth, h.EnsureRole)
	r.GET("/accounts/me/roles", auth, h.ListOwnRoles)
	r.GET("/accounts/:id/roles", auth, h.ListRoles)
	r.PUT("/accounts/:id/roles/:role", auth, h.GrantRole)
	r.DELETE("/accounts/:id/roles/:role", auth, h.RevokeRole)
}

// EnsureRole serves PUT /v1/roles/:name. The permission list replaces the
// role's current permissions.
func (h *RoleHandler) EnsureRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	cmd := usecase.EnsureRoleCommand{Name: strings.TrimSpace(c.Param("name"))}
	if req.Description != nil {
		if description := strings.TrimSpace(*req.Description); description != "" {
			cmd.Description = &description
		}
	}
	for _, perm := range req.Permissions {
		cmd.Permissions = append(cmd.Permissions, strings.TrimSpace(perm))
	}

	role, err := h.roles.EnsureRole(c.Request.Context(), cmd)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRolePayload(role))
}

// ListOwnRoles serves GET /v1/accounts/me/roles.
func (h *RoleHandler) ListOwnRoles(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}
	h.list(c, usecase.ListRolesCommand{AccountID: accountID, Self: true})
}

// ListRoles serves GET /v1/accounts/:id/roles and requires accounts:read.
func (h *RoleHandler) ListRoles(c *gin.Context) {
	h.list(c, usecase.ListRolesCommand{AccountID: c.Param("id")})
}

func (h *RoleHandler) list(c *gin.Context, cmd usecase.ListRolesCommand) {
	result, err := h.roles.ListRoles(c.Request.Context(), cmd)
	if err != nil {
		RespondError(c, err)
		return
	}

	resp := RoleListResponse{
		AccountID:   result.AccountID,
		Roles:       make([]RolePayload, 0, len(result.Roles)),
		Permissions: result.Permissions.Names(),
	}
	for _, role := range result.Roles {
		resp.Roles = append(resp.Roles, newRolePayload(role))
	}
	c.JSON(http.StatusOK, resp)
}

// GrantRole serves PUT /v1/accounts/:id/roles/:role.
func (h *RoleHandler) GrantRole(c *gin.Context) {
	role, err := h.roles.GrantRole(c.Request.Context(), usecase.GrantRoleCommand{
		AccountID: c.Param("id"),
		RoleName:  c.Param("role"),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRolePayload(role))
}

// RevokeRole serves DELETE /v1/accounts/:id/roles/:role.
func (h *RoleHandler) RevokeRole(c *gin.Context) {
	if _, err := h.roles.RevokeRole(c.Request.Context(), usecase.RevokeRoleCommand{
		AccountID: c.Param("id"),
		RoleName:  c.Param("role"),
	}); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package api

import (
	"net/http"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	adminService service.AdminService
}

func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

type CreateUserRequest struct {
	RegisterRequest
	Role domain.Role `json:"role" binding:"required,oneof=admin lecturer student"`
}

type SetRoleRequest struct {
	Role domain.Role `json:"role" binding:"required,oneof=admin lecturer student"`
}

// UpdateUserRequest replaces the profile; an empty password keeps the
// current one.
type UpdateUserRequest struct {
	FirstName string `json:"firstName" binding:"max=100"`
	LastName  string `json:"lastName" binding:"max=100"`
	Email     string `json:"email" binding:"omitempty,email"`
	Password  string `json:"password" binding:"omitempty,min=8"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.adminService.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list users.")
		return
	}
	c.JSON(http.StatusOK, MapUsersToResponse(users))
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	user, err := h.adminService.CreateUser(c.Request.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		respondError(c, err, "Failed to create user.")
		return
	}
	c.JSON(http.StatusCreated, MapUserToResponse(user))
}

func (h *AdminHandler) SetRole(c *gin.Context) {
	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	actorID, _ := getUserIDFromContext(c)
	if err := h.adminService.SetRole(c.Request.Context(), actorID, c.Param("id"), req.Role); err != nil {
		respondError(c, err, "Failed to change role.")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	actorID, _ := getUserIDFromContext(c)
	if err := h.adminService.SetActive(c.Request.Context(), actorID, c.Param("id"), *req.Active); err != nil {
		respondError(c, err, "Failed to change account status.")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	user, err := h.adminService.UpdateUser(c.Request.Context(), c.Param("id"), service.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		respondError(c, err, "Failed to update user.")
		return
	}
	c.JSON(http.StatusOK, MapUserToResponse(user))
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	actorID, _ := getUserIDFromContext(c)
	if err := h.adminService.DeleteUser(c.Request.Context(), actorID, c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete user.")
		return
	}
	c.Status(http.StatusNoContent)
}

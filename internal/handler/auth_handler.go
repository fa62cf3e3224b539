package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login godoc
// POST /api/v1/auth/login
// Authenticates against the exam backend and stores the credential.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, apperror.ErrValidation, fields)
		return
	}

	student, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.FailErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// Logout godoc
// POST /api/v1/auth/logout
// Removes the stored credential and profile.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context()); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Me godoc
// GET /api/v1/auth/me
// Returns the profile of the authenticated student.
func (h *AuthHandler) Me(c *gin.Context) {
	student := middleware.GetStudent(c)
	if student == nil {
		response.Fail(c, http.StatusUnauthorized, apperror.ErrNotAuthenticated)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

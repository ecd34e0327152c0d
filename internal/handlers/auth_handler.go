package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/services"
)

type RegisterUserRequest struct {
	ExternalID string      `json:"externalId"`
	Email      string      `json:"email" binding:"omitempty,email"`
	Name       string      `json:"name"`
	Role       models.Role `json:"role"`
}

// RegisterUser creates the user record for the identity in the bearer token.
// Returns 201 on first registration and 200 with the existing record afterwards.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	claims := middleware.TokenClaims(c)
	if claims == nil {
		httperr.Write(c, apperr.Unauthenticated("Authorization header required"))
		return
	}

	user, created, err := h.Identity.Register(c.Request.Context(), claims, services.RegisterInput{
		ExternalID: req.ExternalID,
		Email:      req.Email,
		Name:       req.Name,
		Role:       req.Role,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"user": user})
}

// GetCurrentUser retrieves the profile of the currently authenticated user.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) UpdateCurrentUser(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}

	updated, err := h.Identity.UpdateProfile(c.Request.Context(), user, req.Name)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/services"
)

// includeInactive is true for staff management views. Staff can ask for the
// public view with ?active=true.
func includeInactive(c *gin.Context) bool {
	return middleware.CurrentUser(c).IsStaff() && c.Query("active") != "true"
}

func (h *Handler) ListServices(c *gin.Context) {
	out, err := h.Catalog.ListServices(c.Request.Context(), includeInactive(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetService(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	svc, err := h.Catalog.GetService(c.Request.Context(), id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (h *Handler) CreateService(c *gin.Context) {
	var req services.ServiceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body: name is required")
		return
	}
	svc, err := h.Catalog.CreateService(c.Request.Context(), req)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, svc)
}

// UpdateService applies a partial update. Unknown keys such as _id and createdAt are ignored.
func (h *Handler) UpdateService(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var patch models.ServicePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	svc, err := h.Catalog.UpdateService(c.Request.Context(), id, patch)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (h *Handler) DeleteService(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.Catalog.DeleteService(c.Request.Context(), id); err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service deleted successfully"})
}

func (h *Handler) ListEquipment(c *gin.Context) {
	out, err := h.Catalog.ListEquipment(c.Request.Context(), includeInactive(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetEquipment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	e, err := h.Catalog.GetEquipment(c.Request.Context(), id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) CreateEquipment(c *gin.Context) {
	var req services.EquipmentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body: name is required")
		return
	}
	e, err := h.Catalog.CreateEquipment(c.Request.Context(), req)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) UpdateEquipment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var patch models.EquipmentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	e, err := h.Catalog.UpdateEquipment(c.Request.Context(), id, patch)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteEquipment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.Catalog.DeleteEquipment(c.Request.Context(), id); err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Equipment deleted successfully"})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/services"
)

// Status and ownership change only through request/approve/deny/return.
var immutableCheckoutFields = []string{"status", "equipmentId", "requesterUserId", "createdAt", "_id", "id"}

type CheckoutRequest struct {
	EquipmentID string    `json:"equipmentId" binding:"required"`
	DueDate     time.Time `json:"dueDate"`
	Notes       string    `json:"notes"`
}

func (h *Handler) RequestCheckout(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body: equipmentId and dueDate (RFC3339) are required")
		return
	}
	if req.DueDate.IsZero() {
		httperr.BadRequest(c, "dueDate is required")
		return
	}
	eqID, err := primitive.ObjectIDFromHex(req.EquipmentID)
	if err != nil {
		httperr.BadRequest(c, "Invalid equipmentId")
		return
	}

	co, err := h.Checkouts.Request(c.Request.Context(), user, services.CheckoutRequestInput{
		EquipmentID: eqID,
		DueDate:     req.DueDate,
		Notes:       req.Notes,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, co)
}

func (h *Handler) MyCheckouts(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	out, err := h.Checkouts.ListMine(c.Request.Context(), user)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListCheckouts(c *gin.Context) {
	out, err := h.Checkouts.List(c.Request.Context(), models.CheckoutStatus(c.Query("status")))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetCheckout(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	co, err := h.Checkouts.Get(c.Request.Context(), user, id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *Handler) ApproveCheckout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	co, err := h.Checkouts.Approve(c.Request.Context(), id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *Handler) DenyCheckout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	co, err := h.Checkouts.Deny(c.Request.Context(), id, req.Reason)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *Handler) ReturnCheckout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	co, err := h.Checkouts.Return(c.Request.Context(), id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

// UpdateCheckout edits dueDate and notes. Naming any immutable field fails the whole request.
func (h *Handler) UpdateCheckout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	for _, f := range immutableCheckoutFields {
		if _, present := raw[f]; present {
			httperr.BadRequest(c, "Field '"+f+"' cannot be changed here; use approve, deny or return")
			return
		}
	}

	var in services.CheckoutUpdateInput
	if v, present := raw["dueDate"]; present {
		var due time.Time
		if err := json.Unmarshal(v, &due); err != nil {
			httperr.BadRequest(c, "dueDate must be an RFC3339 timestamp")
			return
		}
		in.DueDate = &due
	}
	if v, present := raw["notes"]; present {
		var notes string
		if err := json.Unmarshal(v, &notes); err != nil {
			httperr.BadRequest(c, "notes must be a string")
			return
		}
		in.Notes = &notes
	}

	co, err := h.Checkouts.Update(c.Request.Context(), id, in)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

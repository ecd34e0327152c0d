package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/services"
)

type CreateOrderRequest struct {
	Items []struct {
		ServiceID string  `json:"serviceId" binding:"required"`
		Quantity  float64 `json:"quantity"`
	} `json:"items" binding:"required,min=1,dive"`
	Files []string `json:"files"`
	Notes string   `json:"notes"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body: at least one item with a serviceId is required")
		return
	}

	in := services.CreateOrderInput{Files: req.Files, Notes: req.Notes}
	for _, it := range req.Items {
		sid, err := primitive.ObjectIDFromHex(it.ServiceID)
		if err != nil {
			httperr.BadRequest(c, "Invalid serviceId "+it.ServiceID)
			return
		}
		in.Items = append(in.Items, services.OrderItemInput{ServiceID: sid, Quantity: it.Quantity})
	}

	order, err := h.Orders.Create(c.Request.Context(), user, in)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ListOrders returns the caller's own orders, or every order for staff.
func (h *Handler) ListOrders(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	out, err := h.Orders.List(c.Request.Context(), user, models.OrderStatus(c.Query("status")))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetOrder(c *gin.Context) {
	user, ok := middleware.MustUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	order, err := h.Orders.Get(c.Request.Context(), user, id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateOrder edits status and notes. Other keys in the body are dropped.
func (h *Handler) UpdateOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Status *models.OrderStatus `json:"status"`
		Notes  *string             `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	order, err := h.Orders.Update(c.Request.Context(), id, models.OrderPatch{Status: req.Status, Notes: req.Notes})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) DeleteOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.Orders.Delete(c.Request.Context(), id); err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order deleted successfully"})
}

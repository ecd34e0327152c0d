package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/models"
)

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	auth := middleware.AuthMiddleware(h.Identity)
	optional := middleware.OptionalAuth(h.Identity)
	staff := middleware.RequireRole(models.RoleStaff)

	api := r.Group("/api")

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", middleware.TokenOnly(h.Identity), h.RegisterUser)
		authRoutes.GET("/me", auth, h.GetCurrentUser)
		authRoutes.PATCH("/me", auth, h.UpdateCurrentUser)
	}

	svc := api.Group("/services")
	{
		svc.GET("", optional, h.ListServices)
		svc.GET("/:id", h.GetService)
		svc.POST("", auth, staff, h.CreateService)
		svc.PATCH("/:id", auth, staff, h.UpdateService)
		svc.DELETE("/:id", auth, staff, h.DeleteService)
	}

	eq := api.Group("/equipment")
	{
		eq.GET("", optional, h.ListEquipment)
		eq.GET("/:id", h.GetEquipment)
		eq.POST("", auth, staff, h.CreateEquipment)
		eq.PATCH("/:id", auth, staff, h.UpdateEquipment)
		eq.DELETE("/:id", auth, staff, h.DeleteEquipment)
	}

	co := api.Group("/checkouts", auth)
	{
		co.GET("/me", h.MyCheckouts)
		co.POST("/request", h.RequestCheckout)
		co.GET("", staff, h.ListCheckouts)
		co.GET("/:id", h.GetCheckout)
		co.PATCH("/:id", staff, h.UpdateCheckout)
		co.POST("/:id/approve", staff, h.ApproveCheckout)
		co.POST("/:id/deny", staff, h.DenyCheckout)
		co.POST("/:id/return", staff, h.ReturnCheckout)
	}

	orders := api.Group("/orders", auth)
	{
		orders.GET("", h.ListOrders)
		orders.POST("", h.CreateOrder)
		orders.GET("/:id", h.GetOrder)
		orders.PATCH("/:id", staff, h.UpdateOrder)
		orders.DELETE("/:id", staff, h.DeleteOrder)
	}

	api.POST("/upload/equipment-image", auth, staff, h.UploadEquipmentImage)
}

package handlers

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/services"
)

// Handler holds the workflows the HTTP routes call into.
type Handler struct {
	Identity  *services.IdentityService
	Catalog   *services.CatalogService
	Checkouts *services.CheckoutService
	Orders    *services.OrderService
	Uploads   *services.ImageUploadService
}

func NewHandler(identity *services.IdentityService, catalog *services.CatalogService, checkouts *services.CheckoutService,
	orders *services.OrderService, uploads *services.ImageUploadService) *Handler {
	return &Handler{
		Identity:  identity,
		Catalog:   catalog,
		Checkouts: checkouts,
		Orders:    orders,
		Uploads:   uploads,
	}
}

func parseID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		httperr.BadRequest(c, "Invalid ID format")
		return primitive.NilObjectID, false
	}
	return id, true
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		httperr.BadRequest(c, "Invalid request body")
		return false
	}
	return true
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/services"
)

// UploadEquipmentImage accepts multipart field "image".
func (h *Handler) UploadEquipmentImage(c *gin.Context) {
	// Multipart framing adds a little on top of the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxImageBytes+1<<20)

	fh, err := c.FormFile("image")
	if err != nil {
		httperr.BadRequest(c, "Multipart field 'image' is required (max 10 MB)")
		return
	}
	if fh.Size > services.MaxImageBytes {
		httperr.BadRequest(c, "Image exceeds the 10 MB limit")
		return
	}
	f, err := fh.Open()
	if err != nil {
		httperr.BadRequest(c, "Could not read uploaded file")
		return
	}
	defer f.Close()

	out, err := h.Uploads.UploadEquipmentImage(c.Request.Context(), f)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// Package httperr writes workflow errors as {"error": "..."} responses.
package httperr

import (
	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/fablab-api/internal/apperr"
)

// Write maps err to its status code. Internal errors are attached to the
// gin context so the request logger records the cause.
func Write(c *gin.Context, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		_ = c.Error(err)
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
}

// Abort is Write for middleware.
func Abort(c *gin.Context, err error) {
	Write(c, err)
	c.Abort()
}

func BadRequest(c *gin.Context, message string) {
	Write(c, apperr.Invalid("%s", message))
}

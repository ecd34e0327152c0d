package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/httperr"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/services"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

const (
	ctxUser     = "user"
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
	ctxClaims   = "claims"
)

type Authenticator interface {
	Verify(credential string) (*utils.Claims, error)
	Authenticate(ctx context.Context, credential string) (*models.User, string, error)
}

func bearerToken(c *gin.Context) string {
	return strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
}

// AuthMiddleware requires a valid token belonging to a registered user.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _, err := auth.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			httperr.Abort(c, err)
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// OptionalAuth attaches the user when a valid credential is sent and lets
// anonymous requests through otherwise.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if user, _, err := auth.Authenticate(c.Request.Context(), token); err == nil {
				setUser(c, user)
			}
		}
		c.Next()
	}
}

// TokenOnly verifies the credential without requiring a user record. Used by registration.
func TokenOnly(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.Verify(bearerToken(c))
		if err != nil {
			httperr.Abort(c, err)
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := services.RequireRole(CurrentUser(c), role); err != nil {
			httperr.Abort(c, err)
			return
		}
		c.Next()
	}
}

func setUser(c *gin.Context, user *models.User) {
	c.Set(ctxUser, user)
	c.Set(ctxUserID, user.ID.Hex())
	c.Set(ctxUserRole, string(user.Role))
}

// CurrentUser returns the authenticated user or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// MustUser is CurrentUser for routes behind AuthMiddleware. It writes a 401
// and returns false when no user is attached.
func MustUser(c *gin.Context) (*models.User, bool) {
	u := CurrentUser(c)
	if u == nil {
		httperr.Abort(c, apperr.Unauthenticated("Authentication required"))
		return nil, false
	}
	return u, true
}

func TokenClaims(c *gin.Context) *utils.Claims {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*utils.Claims)
	return claims
}

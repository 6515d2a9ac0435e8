package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "userId"
	ContextRole   = "role"
	ContextUser   = "user"
)

// UserLoader resolves the identity behind a token
type UserLoader interface {
	FindUser(ctx context.Context, id uint) (*models.User, error)
}

// Authenticator verifies access tokens against the signing secret and the user store
type Authenticator struct {
	secret string
	users  UserLoader
}

func NewAuthenticator(secret string, users UserLoader) *Authenticator {
	return &Authenticator{secret: secret, users: users}
}

// Authenticate returns the identity a token was issued to. Expired, forged
// and orphaned tokens are all Unauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.Unauthorized("authorization header or token query parameter required")
	}

	claims, err := utils.ValidateToken(token, a.secret)
	if err != nil {
		return nil, apperr.Unauthorized("invalid token")
	}

	user, err := a.users.FindUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthorized("user no longer exists")
		}
		return nil, apperr.Internal(err)
	}
	return user, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter used by websocket clients.
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

func (a *Authenticator) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.Authenticate(c.Request.Context(), TokenFromRequest(c))
		if err != nil {
			body := apperr.ToBody(err, false)
			c.AbortWithStatusJSON(apperr.HTTPStatus(body.Kind), body)
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)
		c.Set(ContextUser, user)
		c.Next()
	}
}

// CurrentUser returns the identity stored by AuthMiddleware
func CurrentUser(c *gin.Context) *models.User {
	if value, ok := c.Get(ContextUser); ok {
		if user, ok := value.(*models.User); ok {
			return user
		}
	}
	return nil
}

// RequireRole rejects callers whose role differs
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			body := apperr.ToBody(apperr.Forbidden("only "+role+"s can perform this action"), false)
			c.AbortWithStatusJSON(http.StatusForbidden, body)
			return
		}
		c.Next()
	}
}

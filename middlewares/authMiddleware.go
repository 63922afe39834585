package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
)

// TokenResolver turns a raw bearer token into the identity it was issued for.
type TokenResolver interface {
	ResolveApiToken(ctx context.Context, raw string) (*models.ApiIdentity, error)
}

// AuthMiddleware requires a bearer api token and scopes the request to its org.
func AuthMiddleware(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		identity, err := resolver.ResolveApiToken(c.Request.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, utils.ErrTokenExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		case errors.Is(err, models.ErrInvalidToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		default:
			config.LogError(config.GetLogger(), "middlewares", "AuthMiddleware", "resolve api token", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetTokenIdInContext(ctx, identity.TokenId)
		ctx = utils.SetOrgIdInContext(ctx, identity.OrgId)
		if identity.UserId != "" {
			ctx = utils.SetUserIdInContext(ctx, identity.UserId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

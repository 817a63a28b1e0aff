package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware parses the identity collaborator's JWT from the
// "token" header into the request context. Requests without a token
// pass through; the capability check rejects them at the boundary of
// any operation that needs an actor.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		parsed, err := utils.JwtValidate(token)
		if err != nil || !parsed.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetActorIdInContext(ctx, claims.ID)
		ctx = utils.SetActorNameInContext(ctx, claims.Name)
		ctx = utils.SetActorRoleInContext(ctx, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

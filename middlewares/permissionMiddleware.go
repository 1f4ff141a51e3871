package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"github.com/gin-gonic/gin"
)

// ActorRequired rejects mutating requests that carry no resolved user
// identity. The ledger attributes every movement to a user, so an anonymous
// write can never be recorded correctly.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "actor identity required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// PermissionMiddleware checks the per-module flags the auth service caches
// under "Permissions:<username>". Admins bypass; a missing or unreadable
// cache entry denies.
func PermissionMiddleware(module string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
			c.Next()
			return
		}

		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok {
			username, ok = utils.GetUserNameFromContext(ctx)
		}
		if !ok || username == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			c.Abort()
			return
		}

		var perms map[string]bool
		found, err := config.GetRedisObject("Permissions:"+username, &perms)
		if err != nil || !found || !perms[module] {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}

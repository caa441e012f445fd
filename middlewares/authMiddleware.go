package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a bearer token signed with secret. An empty secret disables the check.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		auth := c.Request.Header.Get("Authorization")
		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		validate, err := utils.JwtValidate(secret, strings.TrimSpace(auth[len(bearer):]))
		if err != nil || !validate.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if customClaim, ok := validate.Claims.(*utils.JwtCustomClaim); ok {
			ctx := utils.SetSubjectInContext(c.Request.Context(), customClaim.Subject)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

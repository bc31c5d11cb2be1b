package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ManagementAuth guards the management API with a shared key, accepted as
// either a bearer token or an X-Management-Key header. An empty configured
// key disables the check; intended for local development only.
func ManagementAuth(key func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := key()
		if want == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Management-Key")
		if got == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "Invalid management key",
					"kind":    "unauthorized",
				},
			})
			return
		}
		c.Next()
	}
}

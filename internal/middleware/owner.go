package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kartikbazzad/catopus/pkg/errors"
)

const ownerContextName = "owner"

// OwnerMiddleware takes the caller identity from header, set by the
// fronting auth proxy, and rejects requests without one.
func OwnerMiddleware(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(header))
		if owner == "" {
			err := apperrors.Unauthorized("Missing " + header + " header.")
			c.AbortWithStatusJSON(err.Code, gin.H{"status": "error", "message": err.Message})
			return
		}
		c.Set(ownerContextName, owner)
		c.Next()
	}
}

// GetOwner returns the identity set by OwnerMiddleware.
func GetOwner(c *gin.Context) string {
	return c.GetString(ownerContextName)
}

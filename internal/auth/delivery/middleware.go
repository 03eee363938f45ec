package delivery

import (
	"net/http"
	"strings"

	"mailrecall-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

// OwnerIDKey is the gin context key holding the authenticated owner id.
const OwnerIDKey = "owner_id"

func AuthMiddleware(tokens usecase.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		ownerID, err := tokens.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(OwnerIDKey, ownerID)
		c.Next()
	}
}

// OwnerID returns the owner id set by AuthMiddleware.
func OwnerID(c *gin.Context) string {
	return c.GetString(OwnerIDKey)
}

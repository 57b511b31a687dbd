package middleware

import (
	"net/http"
	"strings"

	"github.com/Rierra/LoanCentral/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	CtxClientID   = "client_id"
	CtxClientRole = "client_role"
)

// RequireAuth accepts "Authorization: Bearer <jwt>". Browsers opening the
// moderator websocket may pass the token as ?access_token= instead.
func RequireAuth(jwt *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("access_token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwt.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(CtxClientID, claims.Subject)
		c.Set(CtxClientRole, claims.Role)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

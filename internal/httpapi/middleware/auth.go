package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/auth"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired validates a bearer token and stores its subject under
// UserIDKey. With an empty secret every request passes unauthenticated.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		h := c.GetHeader("Authorization")
		if h == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing authorization header")
			return
		}
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid authorization header")
			return
		}
		sub, err := auth.ParseJWT(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid token")
			return
		}
		c.Set(UserIDKey, sub)
		c.Next()
	}
}

// UserIDFrom returns the authenticated subject, if any.
func UserIDFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

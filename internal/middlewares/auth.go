package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Ephemera/middleware/jwt"
)

// ContextUserID 认证通过后 gin.Context 中保存用户ID的键
const ContextUserID = "user_id"

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(tm *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未提供认证 Token"})
			return
		}

		claims, err := tm.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token 无效或已过期"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// UserID 返回当前请求的用户ID
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

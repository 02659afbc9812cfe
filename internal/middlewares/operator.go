package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OperatorMiddleware 只放行配置中的运维用户，需要在 AuthMiddleware 之后使用
func OperatorMiddleware(operators []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(operators))
	for _, id := range operators {
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[UserID(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not_operator"})
			return
		}
		c.Next()
	}
}

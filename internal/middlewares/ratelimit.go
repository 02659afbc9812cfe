package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/utils/ratelimit"
)

// RateLimitMiddleware 按用户限流，需要放在 AuthMiddleware 之后。
// 限流器本身出错（Redis 不可用且 fail-closed）时返回 503。
func RateLimitMiddleware(limiter ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Error("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "服务暂不可用"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "尝试次数过多，请稍后再试"})
			return
		}
		c.Next()
	}
}

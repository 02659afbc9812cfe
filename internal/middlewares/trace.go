package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// HeaderRequestID 请求ID头，上游未提供时生成一个并回写
const HeaderRequestID = "X-Request-ID"

// TraceMiddleware 为请求分配 trace id 并记录访问日志
func TraceMiddleware(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader(HeaderRequestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, logger.GetTraceID(ctx))

		c.Next()

		log.InfoContext(ctx, "http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

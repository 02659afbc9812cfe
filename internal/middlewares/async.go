package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Ephemera/internal/utils"
)

// AsyncMiddleware 把请求处理放进 Worker Pool 执行，限制同时落到数据库上的请求数。
// 队列满时请求排队等待；客户端断开或协程池已停止时返回 503。
func AsyncMiddleware(pool *utils.WorkerPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool == nil {
			c.Next()
			return
		}

		// 主 goroutine 阻塞等待 done，同一时间只有 worker 在操作 c
		done := make(chan struct{})
		task := func() {
			defer close(done)
			c.Next()
		}

		if err := pool.Submit(c.Request.Context(), task); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "服务繁忙，请稍后重试"})
			return
		}
		<-done
	}
}

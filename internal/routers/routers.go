package routers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/handlers"
	"github.com/Gopher0727/Ephemera/internal/middlewares"
	"github.com/Gopher0727/Ephemera/internal/utils"
	"github.com/Gopher0727/Ephemera/middleware/jwt"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
	"github.com/Gopher0727/Ephemera/utils/ratelimit"
)

// Handlers 路由用到的全部处理器
type Handlers struct {
	Group   *handlers.GroupHandler
	Invite  *handlers.InviteHandler
	Message *handlers.MessageHandler
	Admin   *handlers.AdminHandler
}

// Options 路由依赖的中间件组件
type Options struct {
	Tokens      *jwt.TokenManager
	JoinLimiter ratelimit.Limiter // nil 表示不限流
	Pool        *utils.WorkerPool // nil 表示同步处理
	Gatherer    prometheus.Gatherer
	Operators   []string // 允许调用 /admin 的用户
	Logger      *logger.Logger
}

// SetupRoutes 设置所有路由
func SetupRoutes(r *gin.Engine, h Handlers, opts Options) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r.Use(middlewares.TraceMiddleware(opts.Logger))

	// 健康检查与监控不进入 Worker Pool
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.Use(middlewares.AuthMiddleware(opts.Tokens), middlewares.AsyncMiddleware(opts.Pool))

	RegisterGroupRoutes(api, h)
	RegisterInviteRoutes(api, h, joinLimit(opts))
	RegisterAdminRoutes(api, h.Admin, middlewares.OperatorMiddleware(opts.Operators))
}

func joinLimit(opts Options) gin.HandlerFunc {
	if opts.JoinLimiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middlewares.RateLimitMiddleware(opts.JoinLimiter, opts.Logger.With(zap.String("limiter", "join")))
}

// RegisterGroupRoutes 群组、消息、成员接口
func RegisterGroupRoutes(api *gin.RouterGroup, h Handlers) {
	groups := api.Group("/groups")
	{
		groups.POST("", h.Group.CreateGroup)                         // 创建群组
		groups.GET("/:id", h.Group.GetGroup)                         // 群组详情
		groups.POST("/:id/disband", h.Group.Disband)                 // 手动解散
		groups.POST("/:id/messages", h.Message.SendMessage)          // 发送消息
		groups.GET("/:id/messages", h.Message.ListMessages)          // 消息列表
		groups.POST("/:id/invite", h.Invite.Issue)                   // 签发邀请码
		groups.POST("/:id/invite/regenerate", h.Invite.Regenerate)   // 重新生成邀请码
		groups.DELETE("/:id/members/:userID", h.Invite.RemoveMember) // 移除成员 / 退群
	}
}

// RegisterInviteRoutes 邀请码接口，加入操作单独限流
func RegisterInviteRoutes(api *gin.RouterGroup, h Handlers, limit gin.HandlerFunc) {
	invites := api.Group("/invites")
	{
		invites.GET("/:code", h.Invite.Validate)
		invites.POST("/:code/join", limit, h.Invite.Join)
	}
}

// RegisterAdminRoutes 按需触发生命周期任务，仅限运维用户
func RegisterAdminRoutes(api *gin.RouterGroup, h *handlers.AdminHandler, operators gin.HandlerFunc) {
	admin := api.Group("/admin", operators)
	{
		admin.POST("/sweep", h.Sweep)
		admin.POST("/reap", h.Reap)
	}
}

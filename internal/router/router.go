package router

import (
	"time"

	"homeheal/internal/handlers"
	"homeheal/internal/middleware"
	"homeheal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handlers 路由需要的所有处理器
type Handlers struct {
	Auth        *handlers.AuthHandler
	Cascade     *handlers.CascadeHandler
	Plan        *handlers.HealingPlanHandler
	Pattern     *handlers.PatternHandler
	Integration *handlers.IntegrationHandler
}

// SetupRouter 设置路由
func SetupRouter(h *Handlers) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	registerRoutes(router, h)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, h *Handlers) {

	auth := middleware.NewAuthMiddleware()

	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// JWT认证路由（无需认证）
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", h.Auth.Login) // 用户登录
		}

		// 自愈级联路由
		healing := api.Group("/healing")
		healing.Use(auth.RequireLogin())
		{
			// 级联执行
			healing.POST("/cascades", h.Cascade.Trigger)             // 手动触发级联自愈
			healing.GET("/cascades", h.Cascade.List)                 // 级联执行历史
			healing.GET("/cascades/:execution_id", h.Cascade.Get)    // 执行详情（含动作日志）

			// 自愈预案
			healing.GET("/plans", h.Plan.List)                                          // 预案列表
			healing.GET("/plans/:id", h.Plan.Get)                                       // 预案详情
			healing.POST("/plans/:id/enable", auth.RequireAdmin(), h.Plan.Enable)       // 启用预案
			healing.POST("/plans/:id/disable", auth.RequireAdmin(), h.Plan.Disable)     // 禁用预案
			healing.POST("/plans/reload", auth.RequireAdmin(), h.Plan.Reload)           // 重新加载预案文件

			// 结果模式（自愈记忆）
			healing.GET("/patterns", h.Pattern.List)                                 // 模式列表
			healing.DELETE("/patterns/:id", auth.RequireAdmin(), h.Pattern.Delete)   // 删除模式

			// 集成健康状态
			healing.GET("/integrations", h.Integration.List)                                             // 集成健康与熔断状态
			healing.POST("/integrations/:domain/reset", auth.RequireAdmin(), h.Integration.ResetBreaker) // 清除熔断
			healing.POST("/suppressions", auth.RequireAdmin(), h.Integration.Suppress)                   // 抑制实体自愈
			healing.DELETE("/suppressions/:entity_id", auth.RequireAdmin(), h.Integration.Unsuppress)    // 解除抑制
		}
	}
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "HomeHeal",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}

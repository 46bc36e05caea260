package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/mautops/record-gin/internal/config"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Config               *config.Config
	DB                   *gorm.DB
	Redis                redis.Cmdable
	Auth                 gin.HandlerFunc // 认证中间件,写入调用者
	TemplateController   *TemplateController
	RecordController     *RecordController
	StatisticsController *StatisticsController
}

// SetupRoutes 配置路由
func SetupRoutes(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// 中间件
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(CORSMiddleware(cfg.CORS))
	if cfg.Tracing.Endpoint != "" {
		router.Use(TracingMiddleware(cfg.Tracing))
	}
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(deps.DB, deps.Redis)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// API v1 路由组,先认证再限流
	v1 := router.Group("/api/v1")
	if deps.Auth != nil {
		v1.Use(deps.Auth)
	}
	if cfg.RateLimit.Enabled {
		v1.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	if tc := deps.TemplateController; tc != nil {
		templates := v1.Group("/templates")
		{
			templates.POST("", tc.Create)
			templates.GET("", tc.List)
			templates.POST("/validate", tc.Validate)
			templates.POST("/import", tc.Import)

			templates.GET("/:id", tc.Get)
			templates.PUT("/:id", tc.Update)
			templates.DELETE("/:id", tc.Delete)
			templates.POST("/:id/clone", tc.Clone)
			templates.POST("/:id/toggle-active", tc.ToggleActive)
			templates.GET("/:id/preview", tc.Preview)
			templates.GET("/:id/versions", tc.ListVersions)
			templates.GET("/:id/history", tc.History)
			templates.GET("/:id/export", tc.Export)
			templates.GET("/:id/board", tc.Board)
			templates.GET("/:id/records/export", tc.ExportRecords)

			// 状态子操作,静态段 order 优先于 :stateId
			templates.POST("/:id/states", tc.AddState)
			templates.PUT("/:id/states/order", tc.ReorderStates)
			templates.PUT("/:id/states/:stateId", tc.UpdateState)
			templates.DELETE("/:id/states/:stateId", tc.RemoveState)
		}
	}

	if rc := deps.RecordController; rc != nil {
		records := v1.Group("/records")
		{
			records.POST("", rc.Create)
			records.GET("", rc.List)
			records.GET("/:id", rc.Get)
			records.PUT("/:id", rc.Update)
			records.DELETE("/:id", rc.Archive)
			records.POST("/:id/transition", rc.Transition)
			records.GET("/:id/next-states", rc.NextStates)
			records.POST("/:id/comments", rc.AddComment)
			records.POST("/:id/attachments", rc.UploadAttachment)
			records.PUT("/:id/checklist", rc.UpdateChecklist)
			records.POST("/:id/toggle-lock", rc.ToggleLock)
			records.POST("/:id/clone", rc.Clone)
			records.GET("/:id/history", rc.History)
		}
	}

	if sc := deps.StatisticsController; sc != nil {
		v1.GET("/statistics/records", sc.Records)
	}

	// 未匹配的路由返回 JSON 格式的 404
	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}

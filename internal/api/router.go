// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Corphon/CineGenStudio/internal/config"
	"github.com/Corphon/CineGenStudio/internal/di"
	"github.com/Corphon/CineGenStudio/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	// 获取配置
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	boardService, ok := container.Get("board").(*services.BoardService)
	if !ok {
		return nil, fmt.Errorf("画板服务未正确初始化")
	}

	creditService, ok := container.Get("credit").(*services.CreditService)
	if !ok {
		return nil, fmt.Errorf("积分服务未正确初始化")
	}

	generationService, ok := container.Get("generation").(*services.GenerationService)
	if !ok {
		return nil, fmt.Errorf("生成服务未正确初始化")
	}

	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("导出服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	handler := &Handler{
		BoardService:      boardService,
		CreditService:     creditService,
		GenerationService: generationService,
		ExportService:     exportService,
		ProgressService:   progressService,
		StatsService:      statsService,
		Response:          NewResponseHelper(),
		DefaultCredits:    cfg.DefaultCredits,
		DefaultStyle:      cfg.DefaultStyle,
	}

	// 创建路由
	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ===============================
	// API 路由
	// ===============================
	api := r.Group("/api")
	api.Use(AuthMiddleware())
	{
		// 会话
		api.POST("/login", handler.Login)

		// 积分
		api.GET("/credits", handler.GetCredits)
		api.POST("/credits/reset", handler.ResetCredits)

		// 画板
		api.GET("/board", handler.GetBoard)
		api.POST("/board/resize", handler.ResizeBoard)
		api.PUT("/board/scenes/:id/prompt", handler.UpdatePrompt)
		api.POST("/board/bulk-assign", handler.BulkAssign)
		api.POST("/board/smart-paste", handler.SmartPaste)

		// 生成（限流保护）
		limiter := NewRateLimiter()
		generate := api.Group("")
		generate.Use(RateLimitMiddleware(limiter, 30, time.Minute))
		{
			generate.POST("/board/script", handler.GenerateScript)
			generate.POST("/board/generate", handler.GenerateAll)
			generate.POST("/board/scenes/:id/regenerate", handler.RegenerateScene)
		}

		// 进度
		api.GET("/progress/:task_id", handler.GetTaskProgress)

		// 导出
		api.GET("/export", handler.ExportBoard)
		api.GET("/export/scenes/:id", handler.ExportScene)
		api.GET("/export/history", handler.ListExports)

		// 统计
		api.GET("/stats", handler.GetStats)
		api.POST("/stats/reset", handler.ResetStats)

		// 设置
		api.GET("/settings", handler.GetSettings)
		api.PUT("/settings", handler.SaveSettings)
	}

	// WebSocket 支持
	r.GET("/ws/progress/:task_id", handler.ProgressWebSocket)

	return r, nil
}

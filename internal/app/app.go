// internal/app/app.go
package app

import (
	"fmt"
	"time"

	"github.com/Corphon/CineGenStudio/internal/config"
	"github.com/Corphon/CineGenStudio/internal/di"
	"github.com/Corphon/CineGenStudio/internal/gen"
	_ "github.com/Corphon/CineGenStudio/internal/gen/providers/google" // 注册 google 提供者
	"github.com/Corphon/CineGenStudio/internal/services"
	"github.com/Corphon/CineGenStudio/internal/storage"
	"github.com/Corphon/CineGenStudio/internal/utils"
)

// InitServices 按依赖顺序初始化所有服务并注册到容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	container := di.GetContainer()

	// 1. 文件存储
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	// 2. 积分服务
	creditService, err := services.NewCreditService(fileStorage, cfg.DefaultCredits)
	if err != nil {
		return fmt.Errorf("初始化积分服务失败: %w", err)
	}
	container.Register("credit", creditService)

	// 3. 画板服务
	boardService := services.NewBoardService(cfg.DefaultScenes)
	container.Register("board", boardService)

	// 4. 进度服务，定期回收已结束的任务跟踪器
	progressService := services.NewProgressService()
	progressService.StartCleanup(10*time.Minute, 30*time.Minute)
	container.Register("progress", progressService)

	// 5. 统计服务
	statsService := services.NewStatsService(cfg.DataDir + "/stats")
	container.Register("stats", statsService)

	// 6. 生成服务提供者
	provider := buildProvider(cfg)
	container.Register("provider", provider)

	// 7. 生成协调服务
	generationService := services.NewGenerationService(
		provider, boardService, creditService, progressService, statsService)
	container.Register("generation", generationService)

	// 8. 导出服务
	exportService := services.NewExportService(fileStorage, boardService, statsService)
	container.Register("export", exportService)

	return nil
}

// buildProvider 根据配置创建生成服务提供者
// 缺少密钥时退化为占位实现，画板和积分功能不受影响
func buildProvider(cfg *config.AppConfig) gen.Provider {
	if cfg.GenConfig == nil || cfg.GenConfig["api_key"] == "" {
		utils.GetLogger().Warning("未配置生成服务密钥，生成功能将不可用", nil)
		return gen.NewUnconfiguredProvider()
	}

	provider, err := gen.GetProvider(cfg.GenProvider, cfg.GenConfig)
	if err != nil {
		utils.GetLogger().Warning("初始化生成服务提供者失败，生成功能将不可用", map[string]interface{}{
			"provider": cfg.GenProvider,
			"error":    err.Error(),
		})
		return gen.NewUnconfiguredProvider()
	}

	utils.GetLogger().Info("生成服务提供者就绪", map[string]interface{}{
		"provider": provider.GetName(),
	})
	return provider
}

// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageStats 表示生成与消耗的累计统计
type UsageStats struct {
	ScriptsGenerated int            `json:"scripts_generated"` // 分镜脚本生成次数
	ImagesGenerated  int            `json:"images_generated"`  // 成功生成的图像数
	ImageFailures    int            `json:"image_failures"`    // 失败的图像生成数
	SmartPastes      int            `json:"smart_pastes"`      // 智能粘贴次数
	Exports          int            `json:"exports"`           // 导出次数
	CreditsSpent     int            `json:"credits_spent"`     // 累计消耗的积分
	DailyImages      map[string]int `json:"daily_images"`      // 按日统计的图像数
	LastUpdated      time.Time      `json:"last_updated"`
}

// StatsService 提供使用统计功能
type StatsService struct {
	BasePath    string      // 统计数据存储路径
	statsFile   string      // 统计文件名
	mutex       sync.Mutex  // 用于数据访问的互斥锁
	cachedStats *UsageStats // 缓存的统计数据

	// 批量保存控制
	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
}

// NewStatsService 创建统计服务实例
func NewStatsService(basePath string) *StatsService {
	if basePath == "" {
		basePath = "data/stats"
	}

	// 确保统计数据目录存在
	if err := os.MkdirAll(basePath, 0755); err != nil {
		fmt.Printf("警告: 创建统计目录失败: %v\n", err)
	}

	service := &StatsService{
		BasePath:     basePath,
		statsFile:    filepath.Join(basePath, "usage_stats.json"),
		saveInterval: 30 * time.Second,
	}

	service.startPeriodicSave()

	return service
}

// initStatsUnlocked 初始化统计数据（无锁版本）
func (s *StatsService) initStatsUnlocked() {
	// 尝试加载现有数据
	if loadedStats, err := s.loadStats(); err == nil {
		s.cachedStats = loadedStats
		return
	}

	// 加载失败或文件不存在，创建新的统计数据
	s.cachedStats = &UsageStats{
		DailyImages: make(map[string]int),
		LastUpdated: time.Now(),
	}

	if err := s.saveStats(s.cachedStats); err != nil {
		fmt.Printf("警告: 保存初始统计数据失败: %v\n", err)
	}
}

// loadStats 从文件加载统计数据
func (s *StatsService) loadStats() (*UsageStats, error) {
	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return nil, fmt.Errorf("读取统计文件失败: %w", err)
	}

	var stats UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("解析统计数据失败: %w", err)
	}

	if stats.DailyImages == nil {
		stats.DailyImages = make(map[string]int)
	}

	return &stats, nil
}

// saveStats 原子地保存统计数据
func (s *StatsService) saveStats(stats *UsageStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化统计数据失败: %w", err)
	}

	tempFile := s.statsFile + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("写入临时统计文件失败: %w", err)
	}

	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("替换统计文件失败: %w", err)
	}

	return nil
}

// GetUsageStats 获取使用统计的副本
func (s *StatsService) GetUsageStats() *UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	return &UsageStats{
		ScriptsGenerated: s.cachedStats.ScriptsGenerated,
		ImagesGenerated:  s.cachedStats.ImagesGenerated,
		ImageFailures:    s.cachedStats.ImageFailures,
		SmartPastes:      s.cachedStats.SmartPastes,
		Exports:          s.cachedStats.Exports,
		CreditsSpent:     s.cachedStats.CreditsSpent,
		DailyImages:      copyIntMap(s.cachedStats.DailyImages),
		LastUpdated:      s.cachedStats.LastUpdated,
	}
}

// copyIntMap 复制整型映射
func copyIntMap(original map[string]int) map[string]int {
	if original == nil {
		return make(map[string]int)
	}

	copied := make(map[string]int, len(original))
	maps.Copy(copied, original)
	return copied
}

// RecordScript 记录一次分镜脚本生成
func (s *StatsService) RecordScript(creditsSpent int) {
	s.record(func(stats *UsageStats) {
		stats.ScriptsGenerated++
		stats.CreditsSpent += creditsSpent
	})
}

// RecordImage 记录一次图像生成结果
func (s *StatsService) RecordImage(success bool, creditsSpent int) {
	s.record(func(stats *UsageStats) {
		if success {
			stats.ImagesGenerated++
			stats.DailyImages[time.Now().Format("2006-01-02")]++
		} else {
			stats.ImageFailures++
		}
		stats.CreditsSpent += creditsSpent
	})
}

// RecordSmartPaste 记录一次智能粘贴
func (s *StatsService) RecordSmartPaste(creditsSpent int) {
	s.record(func(stats *UsageStats) {
		stats.SmartPastes++
		stats.CreditsSpent += creditsSpent
	})
}

// RecordExport 记录一次导出
func (s *StatsService) RecordExport() {
	s.record(func(stats *UsageStats) {
		stats.Exports++
	})
}

// record 应用一次统计更新，按间隔批量落盘
func (s *StatsService) record(apply func(*UsageStats)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	apply(s.cachedStats)
	s.cachedStats.LastUpdated = time.Now()
	s.isDirty = true

	// 距离上次保存太久时立即落盘
	if time.Since(s.lastSaveTime) > s.saveInterval {
		s.saveStatsImmediate()
	}
}

// saveStatsImmediate 立即保存（调用方需持有锁）
func (s *StatsService) saveStatsImmediate() error {
	if !s.isDirty {
		return nil
	}

	err := s.saveStats(s.cachedStats)
	if err == nil {
		s.isDirty = false
		s.lastSaveTime = time.Now()
	}
	return err
}

// startPeriodicSave 定时保存机制
func (s *StatsService) startPeriodicSave() {
	go func() {
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mutex.Lock()
			if s.isDirty {
				if err := s.saveStatsImmediate(); err != nil {
					fmt.Printf("警告: 定时保存统计数据失败: %v\n", err)
				}
			}
			s.mutex.Unlock()
		}
	}()
}

// ResetStats 重置统计数据
func (s *StatsService) ResetStats() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	newStats := &UsageStats{
		DailyImages: make(map[string]int),
		LastUpdated: time.Now(),
	}

	if err := s.saveStats(newStats); err != nil {
		return err
	}

	s.cachedStats = newStats
	return nil
}

// Close 关闭前保存未落盘的数据
func (s *StatsService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isDirty {
		return s.saveStatsImmediate()
	}
	return nil
}

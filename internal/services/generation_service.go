// internal/services/generation_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/CineGenStudio/internal/errors"
	"github.com/Corphon/CineGenStudio/internal/gen"
	"github.com/Corphon/CineGenStudio/internal/models"
	"github.com/Corphon/CineGenStudio/internal/utils"
)

// 各操作的积分消耗
const (
	CostImagePerScene  = 10 // 每张分镜图像
	CostScriptPerScene = 5  // 分镜脚本，按画板格数计
	CostSmartPaste     = 50 // 智能粘贴，固定费用
)

// 单次生成调用的超时时间
const defaultCallTimeout = 120 * time.Second

// BatchResult 表示一次批量生成的结果汇总
type BatchResult struct {
	TaskID    string `json:"task_id,omitempty"`
	Processed int    `json:"processed"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Aborted   bool   `json:"aborted"` // 画板重建导致批次提前终止
}

// GenerationService 协调生成调用、画板状态和积分扣减
// 所有操作通过互斥锁串行化，同一时刻只有一个写者
type GenerationService struct {
	mu sync.Mutex

	provider    gen.Provider
	board       *BoardService
	credits     *CreditService
	progress    *ProgressService
	stats       *StatsService
	callTimeout time.Duration
}

// NewGenerationService 创建生成协调服务
func NewGenerationService(
	provider gen.Provider,
	board *BoardService,
	credits *CreditService,
	progress *ProgressService,
	stats *StatsService,
) *GenerationService {
	if provider == nil {
		provider = gen.NewUnconfiguredProvider()
	}

	return &GenerationService{
		provider:    provider,
		board:       board,
		credits:     credits,
		progress:    progress,
		stats:       stats,
		callTimeout: defaultCallTimeout,
	}
}

// SetProvider 替换生成服务提供者（配置更新后调用）
func (s *GenerationService) SetProvider(provider gen.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if provider == nil {
		provider = gen.NewUnconfiguredProvider()
	}
	s.provider = provider
}

// GenerateScript 根据故事梗概生成整板分镜脚本
// 费用按画板格数计，生成失败时不扣积分、不修改画板
func (s *GenerationService) GenerateScript(ctx context.Context, summary, style string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(summary) == "" {
		return apperrors.NewValidationError("故事梗概不能为空", nil)
	}

	sceneCount := s.board.SceneCount()
	cost := sceneCount * CostScriptPerScene

	if !s.credits.CanAfford(cost) {
		return apperrors.NewInsufficientCreditsError(
			fmt.Sprintf("积分不足，本次需要 %d 积分", cost))
	}

	generation := s.board.Generation()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	prompts, err := s.provider.GenerateStoryline(callCtx, gen.StorylineRequest{
		Summary:    summary,
		SceneCount: sceneCount,
		Style:      style,
	})
	if err != nil {
		return apperrors.NewProviderError("分镜脚本生成失败", err)
	}

	if err := s.board.ApplyStoryline(generation, prompts); err != nil {
		// 画板在生成期间被重建，结果作废且不扣费
		return err
	}

	if _, err := s.credits.Debit(cost); err != nil {
		utils.GetLogger().Warning("积分扣减失败", map[string]interface{}{
			"operation": "script",
			"cost":      cost,
			"error":     err.Error(),
		})
	}
	s.stats.RecordScript(cost)

	return nil
}

// GenerateAll 依次为所有未完成的分镜生成图像
// 入口校验整批费用，实际只按成功的张数扣费
func (s *GenerationService) GenerateAll(ctx context.Context, style string, aspect models.AspectRatio) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generateBatch(ctx, style, aspect, nil)
}

// StartGenerateAll 异步启动批量生成，返回可订阅进度的任务标识
func (s *GenerationService) StartGenerateAll(style string, aspect models.AspectRatio) (string, error) {
	taskID := fmt.Sprintf("generate_%d", time.Now().UnixNano())
	tracker := s.progress.CreateTracker(taskID)

	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		result, err := s.generateBatch(context.Background(), style, aspect, tracker)
		if err != nil {
			tracker.Fail(err.Error())
			return
		}

		tracker.Complete(fmt.Sprintf("批量生成结束：成功 %d，失败 %d", result.Completed, result.Failed))
	}()

	return taskID, nil
}

// generateBatch 批量生成的核心循环，调用方需持有锁
func (s *GenerationService) generateBatch(ctx context.Context, style string, aspect models.AspectRatio, tracker *ProgressTracker) (*BatchResult, error) {
	generation := s.board.Generation()
	ids := s.board.IncompleteIDs()
	result := &BatchResult{}

	if len(ids) == 0 {
		return result, nil
	}

	totalCost := len(ids) * CostImagePerScene
	if !s.credits.CanAfford(totalCost) {
		return nil, apperrors.NewInsufficientCreditsError(
			fmt.Sprintf("积分不足，本次需要 %d 积分", totalCost))
	}

	for i, id := range ids {
		select {
		case <-ctx.Done():
			return result, apperrors.WrapError(ctx.Err(), apperrors.ErrorTypeTimeout, "批量生成被中断")
		default:
		}

		scene, ok := s.board.Scene(id)
		if !ok {
			// 画板已被重建为更小的格数
			result.Aborted = true
			break
		}

		if err := s.board.MarkGenerating(generation, id); err != nil {
			result.Aborted = true
			break
		}

		if tracker != nil {
			tracker.UpdateScene(id, i, len(ids), result.Completed, result.Failed)
		}

		prompt := strings.TrimSpace(scene.Prompt)
		if prompt == "" {
			prompt = fmt.Sprintf("Scene %d", id)
		}

		imageURL, err := s.callImage(ctx, prompt, style, aspect)
		if err != nil {
			if markErr := s.board.MarkFailed(generation, id, "图像生成失败"); markErr != nil {
				result.Aborted = true
				break
			}
			utils.GetLogger().Error("分镜图像生成失败", map[string]interface{}{
				"scene_id": id,
				"error":    err.Error(),
			})
			s.stats.RecordImage(false, 0)
			result.Failed++
			result.Processed++
			continue
		}

		if err := s.board.MarkCompleted(generation, id, imageURL); err != nil {
			// 画板在调用期间被重建，丢弃结果且不扣费
			result.Aborted = true
			break
		}

		if _, err := s.credits.Debit(CostImagePerScene); err != nil {
			utils.GetLogger().Warning("积分扣减失败", map[string]interface{}{
				"operation": "image",
				"scene_id":  id,
				"error":     err.Error(),
			})
		}
		s.stats.RecordImage(true, CostImagePerScene)
		result.Completed++
		result.Processed++
	}

	return result, nil
}

// Regenerate 重新生成单个分镜的图像
// 失败时保留原有图像，只更新状态与失败说明
func (s *GenerationService) Regenerate(ctx context.Context, id int, style string, aspect models.AspectRatio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, ok := s.board.Scene(id)
	if !ok {
		return apperrors.NewNotFoundError("分镜不存在", nil)
	}

	if !s.credits.CanAfford(CostImagePerScene) {
		return apperrors.NewInsufficientCreditsError(
			fmt.Sprintf("积分不足，本次需要 %d 积分", CostImagePerScene))
	}

	generation := s.board.Generation()

	if err := s.board.MarkGenerating(generation, id); err != nil {
		return err
	}

	prompt := strings.TrimSpace(scene.Prompt)
	if prompt == "" {
		prompt = fmt.Sprintf("Scene %d", id)
	}

	imageURL, err := s.callImage(ctx, prompt, style, aspect)
	if err != nil {
		if markErr := s.board.MarkFailed(generation, id, "图像生成失败"); markErr != nil {
			return markErr
		}
		s.stats.RecordImage(false, 0)
		return apperrors.NewProviderError("图像生成失败", err)
	}

	if err := s.board.MarkCompleted(generation, id, imageURL); err != nil {
		return err
	}

	if _, err := s.credits.Debit(CostImagePerScene); err != nil {
		utils.GetLogger().Warning("积分扣减失败", map[string]interface{}{
			"operation": "regenerate",
			"scene_id":  id,
			"error":     err.Error(),
		})
	}
	s.stats.RecordImage(true, CostImagePerScene)

	return nil
}

// SmartPaste 解析带分镜标记的文本并分配到画板
// 只有识别到至少一个标记才收费，无标记时不做任何修改
func (s *GenerationService) SmartPaste(text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return 0, apperrors.NewValidationError("粘贴内容不能为空", nil)
	}

	if !s.credits.CanAfford(CostSmartPaste) {
		return 0, apperrors.NewInsufficientCreditsError(
			fmt.Sprintf("积分不足，本次需要 %d 积分", CostSmartPaste))
	}

	matched := s.board.SmartAssign(text)
	if matched == 0 {
		return 0, nil
	}

	if _, err := s.credits.Debit(CostSmartPaste); err != nil {
		utils.GetLogger().Warning("积分扣减失败", map[string]interface{}{
			"operation": "smart_paste",
			"cost":      CostSmartPaste,
			"error":     err.Error(),
		})
	}
	s.stats.RecordSmartPaste(CostSmartPaste)

	return matched, nil
}

// callImage 执行单次图像生成调用，带超时控制
func (s *GenerationService) callImage(ctx context.Context, prompt, style string, aspect models.AspectRatio) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	return s.provider.GenerateSceneImage(callCtx, gen.ImageRequest{
		Prompt:      prompt,
		Style:       style,
		AspectRatio: string(aspect),
	})
}

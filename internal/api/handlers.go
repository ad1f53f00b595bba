// internal/api/handlers.go
package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Corphon/CineGenStudio/internal/auth"
	"github.com/Corphon/CineGenStudio/internal/config"
	apperrors "github.com/Corphon/CineGenStudio/internal/errors"
	"github.com/Corphon/CineGenStudio/internal/gen"
	"github.com/Corphon/CineGenStudio/internal/models"
	"github.com/Corphon/CineGenStudio/internal/services"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	BoardService      *services.BoardService      // 画板服务
	CreditService     *services.CreditService     // 积分服务
	GenerationService *services.GenerationService // 生成协调服务
	ExportService     *services.ExportService     // 导出服务
	ProgressService   *services.ProgressService   // 进度跟踪服务
	StatsService      *services.StatsService      // 统计服务
	Response          *ResponseHelper             // 响应助手

	DefaultCredits int    // 有限模式的初始积分
	DefaultStyle   string // 未指定时使用的全局画面风格
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Mode       string `json:"mode"`       // dev, key, random
	Credential string `json:"credential"` // key/random 模式下的凭据
}

// ResizeBoardRequest 重建画板的请求结构
type ResizeBoardRequest struct {
	SceneCount int `json:"scene_count"`
}

// PromptRequest 更新提示词的请求结构
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// PasteRequest 粘贴文本的请求结构
type PasteRequest struct {
	Text string `json:"text"`
}

// ScriptRequest 生成分镜脚本的请求结构
type ScriptRequest struct {
	Summary string `json:"summary"`
	Style   string `json:"style,omitempty"`
}

// GenerateRequest 图像生成的请求结构
type GenerateRequest struct {
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// ------------------------------------------------

// respondError 把服务层错误映射为对应的HTTP响应
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidationError(err):
		h.Response.BadRequest(c, err.Error())
	case apperrors.IsNotFoundError(err):
		h.Response.NotFound(c, err.Error())
	case apperrors.IsInsufficientCreditsError(err):
		h.Response.PaymentRequired(c, err.Error())
	case apperrors.IsProviderError(err):
		h.Response.BadGateway(c, err.Error())
	case apperrors.IsStaleGenerationError(err):
		h.Response.Error(c, 409, ErrorBoardRebuilt, err.Error())
	case apperrors.IsUnauthorizedError(err):
		h.Response.Unauthorized(c, err.Error())
	default:
		h.Response.InternalError(c, err.Error())
	}
}

// Login 建立会话并按登录模式调整积分
// dev 模式切换到无限积分，key/random 模式保持有限积分
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	mode := auth.LoginMode(req.Mode)
	if err := auth.ValidateLogin(mode, req.Credential); err != nil {
		h.Response.Error(c, 400, ErrorCredentialInvalid, err.Error())
		return
	}

	switch mode {
	case auth.ModeDev:
		if err := h.CreditService.SetInfinite(); err != nil {
			h.Response.InternalError(c, "更新积分模式失败", err.Error())
			return
		}
	default:
		if err := h.CreditService.EnsureFinite(); err != nil {
			h.Response.InternalError(c, "更新积分模式失败", err.Error())
			return
		}
	}

	userID := fmt.Sprintf("%s_user", mode)
	token, err := auth.GenerateToken(userID, mode, tokenConfig)
	if err != nil {
		h.Response.InternalError(c, "生成会话令牌失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"token":   token,
		"user_id": userID,
		"mode":    string(mode),
		"credits": h.CreditService.State(),
	}, "登录成功")
}

// GetCredits 返回当前积分状态
func (h *Handler) GetCredits(c *gin.Context) {
	h.Response.Success(c, h.CreditService.State())
}

// ResetCredits 重置为有限模式的初始积分
func (h *Handler) ResetCredits(c *gin.Context) {
	if err := h.CreditService.SetFinite(h.DefaultCredits); err != nil {
		h.Response.InternalError(c, "重置积分失败", err.Error())
		return
	}

	h.Response.Success(c, h.CreditService.State(), "积分已重置")
}

// GetBoard 返回画板的完整快照
func (h *Handler) GetBoard(c *gin.Context) {
	h.Response.Success(c, h.BoardService.Snapshot())
}

// ResizeBoard 按指定格数重建画板，丢弃所有现有内容
func (h *Handler) ResizeBoard(c *gin.Context) {
	var req ResizeBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if req.SceneCount < 1 || req.SceneCount > 100 {
		h.Response.Error(c, 400, ErrorBoardSizeInvalid, "画板格数必须在 1 到 100 之间")
		return
	}

	h.BoardService.Initialize(req.SceneCount)
	h.Response.Success(c, h.BoardService.Snapshot(), "画板已重建")
}

// UpdatePrompt 更新单个分镜的提示词
func (h *Handler) UpdatePrompt(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		h.Response.BadRequest(c, "无效的分镜编号")
		return
	}

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if _, ok := h.BoardService.Scene(id); !ok {
		h.Response.Error(c, 404, ErrorSceneNotFound, "分镜不存在")
		return
	}

	h.BoardService.SetPrompt(id, req.Prompt)
	h.Response.Success(c, nil, "提示词已更新")
}

// BulkAssign 按行拆分文本填入各分镜
func (h *Handler) BulkAssign(c *gin.Context) {
	var req PasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	assigned := h.BoardService.BulkAssign(req.Text)
	h.Response.Success(c, gin.H{
		"assigned": assigned,
		"board":    h.BoardService.Snapshot(),
	})
}

// SmartPaste 解析带分镜标记的文本并分配到画板（收费操作）
func (h *Handler) SmartPaste(c *gin.Context) {
	var req PasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	matched, err := h.GenerationService.SmartPaste(req.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"matched": matched,
		"charged": matched > 0,
		"credits": h.CreditService.State(),
		"board":   h.BoardService.Snapshot(),
	})
}

// GenerateScript 根据故事梗概生成整板分镜脚本
func (h *Handler) GenerateScript(c *gin.Context) {
	var req ScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	style := req.Style
	if style == "" {
		style = h.DefaultStyle
	}

	if err := h.GenerationService.GenerateScript(c.Request.Context(), req.Summary, style); err != nil {
		h.respondError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"credits": h.CreditService.State(),
		"board":   h.BoardService.Snapshot(),
	}, "分镜脚本已生成")
}

// GenerateAll 异步启动批量图像生成，返回任务标识
func (h *Handler) GenerateAll(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	aspect, ok := models.ParseAspectRatio(req.AspectRatio)
	if !ok {
		h.Response.BadRequest(c, "无效的宽高比，支持 16:9 或 9:16")
		return
	}

	style := req.Style
	if style == "" {
		style = h.DefaultStyle
	}

	taskID, err := h.GenerationService.StartGenerateAll(style, aspect)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Response.Accepted(c, gin.H{
		"task_id": taskID,
	}, "批量生成已启动")
}

// RegenerateScene 重新生成单个分镜的图像
func (h *Handler) RegenerateScene(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		h.Response.BadRequest(c, "无效的分镜编号")
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	aspect, ok := models.ParseAspectRatio(req.AspectRatio)
	if !ok {
		h.Response.BadRequest(c, "无效的宽高比，支持 16:9 或 9:16")
		return
	}

	style := req.Style
	if style == "" {
		style = h.DefaultStyle
	}

	if err := h.GenerationService.Regenerate(c.Request.Context(), id, style, aspect); err != nil {
		h.respondError(c, err)
		return
	}

	scene, _ := h.BoardService.Scene(id)
	h.Response.Success(c, gin.H{
		"scene":   scene,
		"credits": h.CreditService.State(),
	}, "分镜已重新生成")
}

// ExportBoard 导出所有已完成分镜为ZIP压缩包
func (h *Handler) ExportBoard(c *gin.Context) {
	result, err := h.ExportService.ExportAll()
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.Error(c, 404, ErrorExportDataEmpty, err.Error())
			return
		}
		h.respondError(c, err)
		return
	}

	h.Response.DownloadResponse(c, result.Content, result.Filename, "application/zip")
}

// ExportScene 导出单个分镜的图像
func (h *Handler) ExportScene(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		h.Response.BadRequest(c, "无效的分镜编号")
		return
	}

	filename, data, err := h.ExportService.ExportScene(id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Response.DownloadResponse(c, data, filename, "image/png")
}

// ListExports 列出历史导出文件
func (h *Handler) ListExports(c *gin.Context) {
	files, err := h.ExportService.ListExports()
	if err != nil {
		h.Response.InternalError(c, "读取导出记录失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"exports": files})
}

// GetStats 返回使用统计
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, h.StatsService.GetUsageStats())
}

// ResetStats 清空使用统计
func (h *Handler) ResetStats(c *gin.Context) {
	if err := h.StatsService.ResetStats(); err != nil {
		h.Response.InternalError(c, "重置统计数据失败", err.Error())
		return
	}

	h.Response.Success(c, nil, "统计数据已重置")
}

// GetSettings 返回生成服务的当前设置，密钥只报告是否存在
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	genConfig := make(map[string]interface{})
	if cfg.GenConfig != nil {
		genConfig["text_model"] = cfg.GenConfig["text_model"]
		genConfig["image_model"] = cfg.GenConfig["image_model"]
		genConfig["has_api_key"] = cfg.GenConfig["api_key"] != ""
	}

	h.Response.Success(c, gin.H{
		"gen_provider":        cfg.GenProvider,
		"gen_config":          genConfig,
		"available_providers": gen.ListProviders(),
		"debug_mode":          cfg.DebugMode,
	}, "设置获取成功")
}

// SaveSettings 更新生成服务设置并热切换提供者
func (h *Handler) SaveSettings(c *gin.Context) {
	var request struct {
		GenProvider string            `json:"gen_provider"`
		GenConfig   map[string]string `json:"gen_config"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if request.GenProvider == "" || request.GenConfig == nil {
		h.Response.BadRequest(c, "缺少提供者或配置")
		return
	}

	// 先验证新配置能创建可用的提供者，再落盘
	provider, err := gen.GetProvider(request.GenProvider, request.GenConfig)
	if err != nil {
		h.Response.Error(c, 400, ErrorProviderUnavailable, err.Error())
		return
	}

	if err := config.UpdateGenConfig(request.GenProvider, request.GenConfig); err != nil {
		h.Response.InternalError(c, "保存设置失败", err.Error())
		return
	}

	h.GenerationService.SetProvider(provider)
	h.Response.Success(c, nil, "设置保存成功")
}

// GetTaskProgress 返回指定任务的当前进度（轮询用）
func (h *Handler) GetTaskProgress(c *gin.Context) {
	taskID := c.Param("task_id")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务不存在")
		return
	}

	// 批次协程随时可能更新跟踪器，只读取加锁的快照
	snapshot := tracker.Snapshot()
	h.Response.Success(c, gin.H{
		"task_id":   tracker.TaskID,
		"progress":  snapshot.Progress,
		"message":   snapshot.Message,
		"status":    snapshot.Status,
		"completed": snapshot.Completed,
		"failed":    snapshot.Failed,
	})
}

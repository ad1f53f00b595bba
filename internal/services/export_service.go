// internal/services/export_service.go
package services

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Corphon/CineGenStudio/internal/errors"
	"github.com/Corphon/CineGenStudio/internal/models"
	"github.com/Corphon/CineGenStudio/internal/storage"
)

const exportsDir = "exports"

// ExportService 把已完成的分镜图像打包为 ZIP 压缩包
type ExportService struct {
	storage *storage.FileStorage
	board   *BoardService
	stats   *StatsService
}

// NewExportService 创建导出服务
func NewExportService(fileStorage *storage.FileStorage, board *BoardService, stats *StatsService) *ExportService {
	return &ExportService{
		storage: fileStorage,
		board:   board,
		stats:   stats,
	}
}

// ExportAll 导出画板上所有已完成的分镜图像
// 压缩包内文件名为 Scene_01.png 格式，保持画板顺序
func (s *ExportService) ExportAll() (*models.ExportResult, error) {
	snapshot := s.board.Snapshot()

	var completed []models.Scene
	for _, scene := range snapshot.Scenes {
		if scene.IsCompleted() {
			completed = append(completed, scene)
		}
	}

	if len(completed) == 0 {
		return nil, apperrors.NewNotFoundError("没有可导出的分镜图像", nil)
	}

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for _, scene := range completed {
		data, err := decodeImagePayload(scene.ImageURL)
		if err != nil {
			zipWriter.Close()
			return nil, apperrors.NewProcessingError(
				fmt.Sprintf("解码分镜 %d 的图像失败", scene.ID), err)
		}

		entry, err := zipWriter.Create(fmt.Sprintf("Scene_%02d.png", scene.ID))
		if err != nil {
			zipWriter.Close()
			return nil, apperrors.NewProcessingError("创建压缩包条目失败", err)
		}

		if _, err := entry.Write(data); err != nil {
			zipWriter.Close()
			return nil, apperrors.NewProcessingError("写入压缩包条目失败", err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, apperrors.NewProcessingError("关闭压缩包失败", err)
	}

	filename := fmt.Sprintf("cinegen_storyboard_%d.zip", time.Now().Unix())
	content := buf.Bytes()

	// 落盘一份，便于事后找回
	if err := s.storage.SaveFile(exportsDir, filename, content); err != nil {
		return nil, apperrors.NewProcessingError("保存导出文件失败", err)
	}

	if s.stats != nil {
		s.stats.RecordExport()
	}

	return &models.ExportResult{
		Filename:   filename,
		FilePath:   filepath.Join(s.storage.BaseDir, exportsDir, filename),
		FileSize:   int64(len(content)),
		SceneCount: len(completed),
		CreatedAt:  time.Now(),
		Content:    content,
	}, nil
}

// ExportScene 导出单个已完成分镜的图像
func (s *ExportService) ExportScene(id int) (string, []byte, error) {
	scene, ok := s.board.Scene(id)
	if !ok {
		return "", nil, apperrors.NewNotFoundError("分镜不存在", nil)
	}

	if !scene.IsCompleted() {
		return "", nil, apperrors.NewNotFoundError("该分镜尚未生成图像", nil)
	}

	data, err := decodeImagePayload(scene.ImageURL)
	if err != nil {
		return "", nil, apperrors.NewProcessingError("解码图像失败", err)
	}

	return fmt.Sprintf("Scene_%02d.png", scene.ID), data, nil
}

// ListExports 列出历史导出文件名
func (s *ExportService) ListExports() ([]string, error) {
	return s.storage.ListFiles(exportsDir)
}

// decodeImagePayload 解码 data URL 形式的图像数据
func decodeImagePayload(imageURL string) ([]byte, error) {
	payload := imageURL
	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("base64 解码失败: %w", err)
	}

	return data, nil
}

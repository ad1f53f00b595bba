// internal/models/export.go
package models

import "time"

// ExportResult 表示一次导出操作的产物描述
type ExportResult struct {
	Filename   string    `json:"filename"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	SceneCount int       `json:"scene_count"`
	CreatedAt  time.Time `json:"created_at"`

	// 压缩包内容，随响应下发，不参与序列化
	Content []byte `json:"-"`
}

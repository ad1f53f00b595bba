// internal/models/scene.go
package models

// SceneStatus 表示单个分镜的生成状态
type SceneStatus string

const (
	SceneStatusIdle       SceneStatus = "idle"       // 未生成
	SceneStatusGenerating SceneStatus = "generating" // 生成中
	SceneStatusCompleted  SceneStatus = "completed"  // 已完成
	SceneStatusFailed     SceneStatus = "failed"     // 生成失败
)

// Scene 表示画板上的一个分镜格
// ID 从 1 开始，与画板上的显示编号一致
type Scene struct {
	ID       int         `json:"id"`
	Prompt   string      `json:"prompt"`
	ImageURL string      `json:"image_url,omitempty"`
	Status   SceneStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// IsCompleted 判断分镜是否已有可用图像
func (s *Scene) IsCompleted() bool {
	return s.Status == SceneStatusCompleted && s.ImageURL != ""
}

// BoardSnapshot 表示画板在某一时刻的完整状态
// Generation 在每次重建画板时递增，用于丢弃过期的生成结果
type BoardSnapshot struct {
	Generation int64   `json:"generation"`
	SceneCount int     `json:"scene_count"`
	Scenes     []Scene `json:"scenes"`
}

// AspectRatio 表示生成图像的宽高比
type AspectRatio string

const (
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
)

// ParseAspectRatio 解析宽高比字符串，空值回退到横版
func ParseAspectRatio(s string) (AspectRatio, bool) {
	switch AspectRatio(s) {
	case AspectLandscape, AspectPortrait:
		return AspectRatio(s), true
	case "":
		return AspectLandscape, true
	default:
		return "", false
	}
}

// internal/gen/interface.go
package gen

import (
	"context"
	"errors"
)

// 错误定义
var ErrUnknownProvider = errors.New("未知的生成服务提供者")

// StorylineRequest 分镜脚本生成请求
type StorylineRequest struct {
	Summary    string `json:"summary"`
	SceneCount int    `json:"scene_count"`
	Style      string `json:"style,omitempty"`
}

// ImageRequest 单张分镜图像生成请求
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Provider 定义所有生成服务提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 根据故事梗概生成分镜提示词，返回的切片长度不超过 SceneCount
	GenerateStoryline(ctx context.Context, req StorylineRequest) ([]string, error)

	// 生成单张分镜图像，返回 data URL 形式的图像引用
	GenerateSceneImage(ctx context.Context, req ImageRequest) (string, error)
}

// 注册表和工厂函数类型
type ProviderFactory func() Provider

var providers = make(map[string]ProviderFactory)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider 创建指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	err := provider.Initialize(config)
	return provider, err
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}

// internal/gen/unconfigured.go
package gen

import (
	"context"
	"errors"
)

// ErrNotConfigured 表示尚未配置可用的生成服务
var ErrNotConfigured = errors.New("生成服务未配置，请设置 API 密钥")

// UnconfiguredProvider 在缺少 API 密钥时占位，所有调用返回配置错误
// 这样服务可以正常启动，画板和积分功能不受影响
type UnconfiguredProvider struct{}

func NewUnconfiguredProvider() *UnconfiguredProvider {
	return &UnconfiguredProvider{}
}

func (p *UnconfiguredProvider) Initialize(config map[string]string) error {
	return nil
}

func (p *UnconfiguredProvider) GetName() string {
	return "unconfigured"
}

func (p *UnconfiguredProvider) GenerateStoryline(ctx context.Context, req StorylineRequest) ([]string, error) {
	return nil, ErrNotConfigured
}

func (p *UnconfiguredProvider) GenerateSceneImage(ctx context.Context, req ImageRequest) (string, error) {
	return "", ErrNotConfigured
}

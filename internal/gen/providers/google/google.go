// internal/gen/providers/google/google.go
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/CineGenStudio/internal/gen"
)

func init() {
	gen.Register("google", func() gen.Provider {
		return &Provider{
			baseURL: "https://generativelanguage.googleapis.com/v1beta",
		}
	})
}

type Provider struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	textModel  string
	imageModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("gemini API密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["text_model"]; exists && model != "" {
		p.textModel = model
	} else {
		p.textModel = "gemini-3-flash-preview"
	}

	if model, exists := config["image_model"]; exists && model != "" {
		p.imageModel = model
	} else {
		p.imageModel = "gemini-2.5-flash-image"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = baseURL
	}

	return nil
}

func (p *Provider) GetName() string {
	return "google gemini"
}

// GenerateStoryline 根据故事梗概生成分镜提示词列表
// 通过 responseSchema 约束模型返回 JSON 字符串数组
func (p *Provider) GenerateStoryline(ctx context.Context, req gen.StorylineRequest) ([]string, error) {
	prompt := fmt.Sprintf(
		"You are a film director creating a storyboard. Based on the following story summary, "+
			"break it down into exactly %d sequential scenes. For each scene write a vivid, "+
			"visually detailed image generation prompt describing the shot. Story summary: %s",
		req.SceneCount, req.Summary)

	if req.Style != "" {
		prompt += fmt.Sprintf(" Overall visual style: %s.", req.Style)
	}

	requestBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"responseSchema": map[string]interface{}{
				"type":  "ARRAY",
				"items": map[string]string{"type": "STRING"},
			},
		},
	}

	body, err := p.sendRequest(ctx, p.textModel, requestBody)
	if err != nil {
		return nil, err
	}

	// 提取文本内容
	var resultText string
	for _, part := range body.Candidates[0].Content.Parts {
		resultText += part.Text
	}

	var prompts []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(resultText)), &prompts); err != nil {
		return nil, fmt.Errorf("解析分镜脚本失败: %w", err)
	}

	// 模型偶尔会多给，截断到请求的数量
	if len(prompts) > req.SceneCount {
		prompts = prompts[:req.SceneCount]
	}

	return prompts, nil
}

// GenerateSceneImage 生成单张分镜图像，返回 data URL
func (p *Provider) GenerateSceneImage(ctx context.Context, req gen.ImageRequest) (string, error) {
	prompt := req.Prompt
	if req.Style != "" {
		prompt = fmt.Sprintf("%s. Style: %s", prompt, req.Style)
	}

	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	requestBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"imageConfig": map[string]string{
				"aspectRatio": aspectRatio,
			},
		},
	}

	body, err := p.sendRequest(ctx, p.imageModel, requestBody)
	if err != nil {
		return "", err
	}

	// 在返回的 parts 中寻找内联图像数据
	for _, part := range body.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			mimeType := part.InlineData.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return fmt.Sprintf("data:%s;base64,%s", mimeType, part.InlineData.Data), nil
		}
	}

	return "", errors.New("google gemini未返回图像数据")
}

// generateContentResponse 是 generateContent 端点的响应结构
type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text,omitempty"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// sendRequest 发送 generateContent 请求并做通用的错误处理
func (p *Provider) sendRequest(ctx context.Context, model string, requestBody map[string]interface{}) (*generateContentResponse, error) {
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	// 检查错误
	if httpResp.StatusCode != http.StatusOK {
		var errorResp map[string]interface{}
		body, _ := io.ReadAll(httpResp.Body)
		if err := json.Unmarshal(body, &errorResp); err == nil {
			if errorObj, ok := errorResp["error"].(map[string]interface{}); ok {
				return nil, fmt.Errorf("google gemini API错误(%d): %v",
					httpResp.StatusCode, errorObj["message"])
			}
		}
		return nil, fmt.Errorf("google gemini API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response generateContentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}

	if len(response.Candidates) == 0 {
		return nil, errors.New("google gemini未返回任何结果")
	}

	return &response, nil
}

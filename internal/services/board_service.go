// internal/services/board_service.go
package services

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Corphon/CineGenStudio/internal/errors"
	"github.com/Corphon/CineGenStudio/internal/models"
)

// 智能粘贴的分镜标记，形如 "Scene 3 -"、"scene 12:"、"SCENE 5."
var sceneMarkerPattern = regexp.MustCompile(`(?i)scene\s*(\d+)\s*[-:.]?\s*`)

// BoardService 管理分镜画板的内存状态
// 画板每次重建时 generation 递增，旧批次的生成结果据此被丢弃
type BoardService struct {
	mu         sync.RWMutex
	generation int64
	scenes     []models.Scene
}

// NewBoardService 创建指定格数的画板
func NewBoardService(sceneCount int) *BoardService {
	s := &BoardService{}
	s.Initialize(sceneCount)
	return s
}

// Initialize 重建画板为指定格数，丢弃所有现有内容
// 返回新的代数，正在途中的旧批次结果将因代数不匹配而被丢弃
func (s *BoardService) Initialize(sceneCount int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sceneCount < 1 {
		sceneCount = 1
	}

	s.generation++
	s.scenes = make([]models.Scene, sceneCount)
	for i := range s.scenes {
		s.scenes[i] = models.Scene{
			ID:     i + 1,
			Status: models.SceneStatusIdle,
		}
	}

	return s.generation
}

// Generation 返回当前画板代数
func (s *BoardService) Generation() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SceneCount 返回画板格数
func (s *BoardService) SceneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scenes)
}

// Snapshot 返回画板当前状态的完整副本
func (s *BoardService) Snapshot() models.BoardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scenes := make([]models.Scene, len(s.scenes))
	copy(scenes, s.scenes)

	return models.BoardSnapshot{
		Generation: s.generation,
		SceneCount: len(s.scenes),
		Scenes:     scenes,
	}
}

// Scene 返回指定编号的分镜副本
func (s *BoardService) Scene(id int) (models.Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > len(s.scenes) {
		return models.Scene{}, false
	}
	return s.scenes[id-1], true
}

// SetPrompt 更新单个分镜的提示词，编号越界时静默忽略
func (s *BoardService) SetPrompt(id int, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || id > len(s.scenes) {
		return
	}
	s.scenes[id-1].Prompt = prompt
}

// BulkAssign 按行拆分文本，依次填入各分镜的提示词
// 空行跳过，超出画板格数的行丢弃，返回实际填入的行数
func (s *BoardService) BulkAssign(text string) int {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := 0
	for i, line := range lines {
		if i >= len(s.scenes) {
			break
		}
		s.scenes[i].Prompt = line
		assigned++
	}

	return assigned
}

// SmartAssign 解析带有 "Scene N" 标记的文本，把标记后的内容
// 填入对应编号的分镜。返回识别到的标记总数（包括编号越界的标记，
// 越界标记的内容被丢弃但仍计入匹配）
func (s *BoardService) SmartAssign(text string) int {
	matches := sceneMarkerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range matches {
		num, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}

		// 段落内容从标记结束到下一个标记开始
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		body := strings.TrimSpace(text[start:end])
		if num >= 1 && num <= len(s.scenes) {
			s.scenes[num-1].Prompt = body
		}
	}

	return len(matches)
}

// ApplyStoryline 把生成的分镜脚本写入画板，并重置所有分镜状态
// prompts 中的空串保留对应分镜的现有提示词，超出格数的条目丢弃
// generation 与当前代数不符时返回过期错误，不做任何修改
func (s *BoardService) ApplyStoryline(generation int64, prompts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return errors.NewStaleGenerationError("画板已重建，分镜脚本已丢弃")
	}

	for i := range s.scenes {
		if i < len(prompts) && strings.TrimSpace(prompts[i]) != "" {
			s.scenes[i].Prompt = prompts[i]
		}
		s.scenes[i].Status = models.SceneStatusIdle
		s.scenes[i].ImageURL = ""
		s.scenes[i].Error = ""
	}

	return nil
}

// IncompleteIDs 返回所有未完成分镜的编号，升序
func (s *BoardService) IncompleteIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int
	for i := range s.scenes {
		if s.scenes[i].Status != models.SceneStatusCompleted {
			ids = append(ids, i+1)
		}
	}
	return ids
}

// MarkGenerating 把分镜置为生成中，保留已有图像直到本次生成落定
func (s *BoardService) MarkGenerating(generation int64, id int) error {
	return s.mark(generation, id, func(scene *models.Scene) {
		scene.Status = models.SceneStatusGenerating
		scene.Error = ""
	})
}

// MarkCompleted 记录生成成功的图像
func (s *BoardService) MarkCompleted(generation int64, id int, imageURL string) error {
	return s.mark(generation, id, func(scene *models.Scene) {
		scene.Status = models.SceneStatusCompleted
		scene.ImageURL = imageURL
		scene.Error = ""
	})
}

// MarkFailed 记录生成失败，保留之前的图像（如果有）
func (s *BoardService) MarkFailed(generation int64, id int, note string) error {
	return s.mark(generation, id, func(scene *models.Scene) {
		scene.Status = models.SceneStatusFailed
		scene.Error = note
	})
}

// mark 在代数校验通过后修改单个分镜
func (s *BoardService) mark(generation int64, id int, apply func(*models.Scene)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return errors.NewStaleGenerationError("画板已重建，生成结果已丢弃")
	}

	if id < 1 || id > len(s.scenes) {
		return errors.NewNotFoundError("分镜不存在", nil)
	}

	apply(&s.scenes[id-1])
	return nil
}

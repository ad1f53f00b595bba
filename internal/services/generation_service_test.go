package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/Corphon/CineGenStudio/internal/errors"
	"github.com/Corphon/CineGenStudio/internal/gen"
	"github.com/Corphon/CineGenStudio/internal/models"
)

const testImageURL = "data:image/png;base64,aGVsbG8="

// fakeProvider 可编程的测试提供者
type fakeProvider struct {
	storyline    []string
	storylineErr error
	imageFunc    func(req gen.ImageRequest) (string, error)
	imageCalls   int
}

func (p *fakeProvider) Initialize(config map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                           { return "fake" }

func (p *fakeProvider) GenerateStoryline(ctx context.Context, req gen.StorylineRequest) ([]string, error) {
	if p.storylineErr != nil {
		return nil, p.storylineErr
	}
	return p.storyline, nil
}

func (p *fakeProvider) GenerateSceneImage(ctx context.Context, req gen.ImageRequest) (string, error) {
	p.imageCalls++
	if p.imageFunc != nil {
		return p.imageFunc(req)
	}
	return testImageURL, nil
}

// newTestGeneration 组装一套带内存依赖的生成服务
func newTestGeneration(t *testing.T, provider gen.Provider, sceneCount, credits int) (*GenerationService, *BoardService, *CreditService) {
	t.Helper()

	creditService, err := NewCreditService(newTestStorage(t), credits)
	if err != nil {
		t.Fatalf("创建积分服务失败: %v", err)
	}

	board := NewBoardService(sceneCount)
	progress := NewProgressService()
	stats := NewStatsService(t.TempDir())

	return NewGenerationService(provider, board, creditService, progress, stats), board, creditService
}

func TestGenerateAll_AllSucceed(t *testing.T) {
	provider := &fakeProvider{}
	svc, board, credits := newTestGeneration(t, provider, 3, 300)

	result, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape)
	if err != nil {
		t.Fatalf("批量生成失败: %v", err)
	}

	if result.Completed != 3 || result.Failed != 0 {
		t.Errorf("应成功 3 失败 0，实际成功 %d 失败 %d", result.Completed, result.Failed)
	}

	// 按成功张数扣费
	state := credits.State()
	if state.Remaining != 300-3*CostImagePerScene {
		t.Errorf("余额应为 %d，实际为 %d", 300-3*CostImagePerScene, state.Remaining)
	}

	snapshot := board.Snapshot()
	for _, scene := range snapshot.Scenes {
		if scene.Status != models.SceneStatusCompleted || scene.ImageURL == "" {
			t.Errorf("分镜 %d 应已完成，实际 %+v", scene.ID, scene)
		}
	}
}

func TestGenerateAll_PartialFailureOnlyChargesSuccesses(t *testing.T) {
	// 第 2 格失败，其余成功
	provider := &fakeProvider{}
	call := 0
	provider.imageFunc = func(req gen.ImageRequest) (string, error) {
		call++
		if call == 2 {
			return "", errors.New("上游超时")
		}
		return testImageURL, nil
	}

	svc, board, credits := newTestGeneration(t, provider, 3, 300)

	result, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape)
	if err != nil {
		t.Fatalf("批量生成失败: %v", err)
	}

	if result.Completed != 2 || result.Failed != 1 {
		t.Errorf("应成功 2 失败 1，实际成功 %d 失败 %d", result.Completed, result.Failed)
	}

	// 失败的分镜不扣费
	state := credits.State()
	if state.Remaining != 300-2*CostImagePerScene {
		t.Errorf("余额应为 %d，实际为 %d", 300-2*CostImagePerScene, state.Remaining)
	}

	scene, _ := board.Scene(2)
	if scene.Status != models.SceneStatusFailed {
		t.Errorf("分镜 2 状态应为 failed，实际为 %s", scene.Status)
	}
	if scene.Error == "" {
		t.Error("失败的分镜应有错误说明")
	}

	// 失败后批次继续处理后续分镜
	scene3, _ := board.Scene(3)
	if scene3.Status != models.SceneStatusCompleted {
		t.Errorf("分镜 3 应继续完成，实际为 %s", scene3.Status)
	}
}

func TestGenerateAll_SkipsCompletedScenes(t *testing.T) {
	provider := &fakeProvider{}
	svc, board, _ := newTestGeneration(t, provider, 3, 300)

	generation := board.Generation()
	if err := board.MarkCompleted(generation, 2, testImageURL); err != nil {
		t.Fatalf("标记完成失败: %v", err)
	}

	result, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape)
	if err != nil {
		t.Fatalf("批量生成失败: %v", err)
	}

	if result.Completed != 2 {
		t.Errorf("只应处理 2 个未完成分镜，实际处理成功 %d", result.Completed)
	}
	if provider.imageCalls != 2 {
		t.Errorf("已完成分镜不应重复调用生成，调用次数为 %d", provider.imageCalls)
	}
}

func TestGenerateAll_InsufficientCredits(t *testing.T) {
	provider := &fakeProvider{}
	// 3 格需要 30 积分，只有 25
	svc, board, credits := newTestGeneration(t, provider, 3, 25)

	_, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape)
	if err == nil {
		t.Fatal("积分不足时应返回错误")
	}
	if !apperrors.IsInsufficientCreditsError(err) {
		t.Fatalf("应返回积分不足错误，实际为 %v", err)
	}

	// 拒绝发生在任何调用之前
	if provider.imageCalls != 0 {
		t.Errorf("积分不足时不应调用生成服务，调用次数为 %d", provider.imageCalls)
	}
	if credits.State().Remaining != 25 {
		t.Errorf("积分不足时不应扣费，余额为 %d", credits.State().Remaining)
	}

	snapshot := board.Snapshot()
	for _, scene := range snapshot.Scenes {
		if scene.Status != models.SceneStatusIdle {
			t.Errorf("积分不足时画板不应变化，分镜 %d 状态为 %s", scene.ID, scene.Status)
		}
	}
}

func TestGenerateAll_EmptyBoardNoOp(t *testing.T) {
	provider := &fakeProvider{}
	svc, board, credits := newTestGeneration(t, provider, 2, 300)

	generation := board.Generation()
	board.MarkCompleted(generation, 1, testImageURL)
	board.MarkCompleted(generation, 2, testImageURL)

	result, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape)
	if err != nil {
		t.Fatalf("批量生成失败: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("全部完成时应为空批次，实际处理 %d", result.Processed)
	}
	if credits.State().Remaining != 300 {
		t.Errorf("空批次不应扣费，余额为 %d", credits.State().Remaining)
	}
}

func TestGenerateAll_BoardRebuiltDuringBatch(t *testing.T) {
	var board *BoardService

	// 第一次调用期间画板被重建，后续结果应被丢弃
	provider := &fakeProvider{}
	provider.imageFunc = func(req gen.ImageRequest) (string, error) {
		if provider.imageCalls == 1 {
			board.Initialize(5)
		}
		return testImageURL, nil
	}

	svc, b, credits := newTestGeneration(t, provider, 3, 300)
	board = b

	result, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape)
	if err != nil {
		t.Fatalf("批量生成失败: %v", err)
	}

	if !result.Aborted {
		t.Error("画板重建后批次应标记为提前终止")
	}
	if result.Completed != 0 {
		t.Errorf("过期结果不应计入成功，实际为 %d", result.Completed)
	}

	// 过期结果不扣费，新画板不被污染
	if credits.State().Remaining != 300 {
		t.Errorf("过期结果不应扣费，余额为 %d", credits.State().Remaining)
	}

	snapshot := board.Snapshot()
	for _, scene := range snapshot.Scenes {
		if scene.ImageURL != "" || scene.Status != models.SceneStatusIdle {
			t.Errorf("新画板不应带有旧批次的结果，分镜 %d 为 %+v", scene.ID, scene)
		}
	}
}

func TestGenerateScript_Success(t *testing.T) {
	provider := &fakeProvider{
		storyline: []string{"镜头一", "镜头二", "镜头三"},
	}
	svc, board, credits := newTestGeneration(t, provider, 3, 300)

	if err := svc.GenerateScript(context.Background(), "一个关于龙的故事", ""); err != nil {
		t.Fatalf("生成分镜脚本失败: %v", err)
	}

	snapshot := board.Snapshot()
	expected := []string{"镜头一", "镜头二", "镜头三"}
	for i, want := range expected {
		if snapshot.Scenes[i].Prompt != want {
			t.Errorf("分镜 %d 提示词应为 %q，实际为 %q", i+1, want, snapshot.Scenes[i].Prompt)
		}
	}

	// 按画板格数计费
	if credits.State().Remaining != 300-3*CostScriptPerScene {
		t.Errorf("余额应为 %d，实际为 %d", 300-3*CostScriptPerScene, credits.State().Remaining)
	}
}

func TestGenerateScript_ProviderFailureIsAtomic(t *testing.T) {
	provider := &fakeProvider{
		storylineErr: errors.New("上游不可用"),
	}
	svc, board, credits := newTestGeneration(t, provider, 3, 300)
	board.SetPrompt(1, "原有提示词")

	err := svc.GenerateScript(context.Background(), "一个故事", "")
	if err == nil {
		t.Fatal("上游失败时应返回错误")
	}
	if !apperrors.IsProviderError(err) {
		t.Fatalf("应返回生成服务错误，实际为 %v", err)
	}

	// 失败时不扣费、不修改画板
	if credits.State().Remaining != 300 {
		t.Errorf("失败时不应扣费，余额为 %d", credits.State().Remaining)
	}
	scene, _ := board.Scene(1)
	if scene.Prompt != "原有提示词" {
		t.Errorf("失败时画板不应变化，提示词为 %q", scene.Prompt)
	}
}

func TestGenerateScript_EmptySummary(t *testing.T) {
	svc, _, _ := newTestGeneration(t, &fakeProvider{}, 3, 300)

	err := svc.GenerateScript(context.Background(), "   ", "")
	if err == nil {
		t.Fatal("空梗概应返回错误")
	}
	if !apperrors.IsValidationError(err) {
		t.Fatalf("应返回验证错误，实际为 %v", err)
	}
}

func TestGenerateScript_InsufficientCredits(t *testing.T) {
	// 10 格需要 50 积分
	svc, _, credits := newTestGeneration(t, &fakeProvider{}, 10, 40)

	err := svc.GenerateScript(context.Background(), "一个故事", "")
	if !apperrors.IsInsufficientCreditsError(err) {
		t.Fatalf("应返回积分不足错误，实际为 %v", err)
	}
	if credits.State().Remaining != 40 {
		t.Errorf("拒绝时不应扣费，余额为 %d", credits.State().Remaining)
	}
}

func TestRegenerate_FailureKeepsImage(t *testing.T) {
	provider := &fakeProvider{}
	svc, board, credits := newTestGeneration(t, provider, 2, 300)

	generation := board.Generation()
	if err := board.MarkCompleted(generation, 1, testImageURL); err != nil {
		t.Fatalf("标记完成失败: %v", err)
	}

	provider.imageFunc = func(req gen.ImageRequest) (string, error) {
		return "", errors.New("上游超时")
	}

	err := svc.Regenerate(context.Background(), 1, "", models.AspectLandscape)
	if err == nil {
		t.Fatal("上游失败时应返回错误")
	}

	scene, _ := board.Scene(1)
	if scene.Status != models.SceneStatusFailed {
		t.Errorf("状态应为 failed，实际为 %s", scene.Status)
	}
	if scene.ImageURL != testImageURL {
		t.Error("重新生成失败时应保留原图")
	}
	if credits.State().Remaining != 300 {
		t.Errorf("失败时不应扣费，余额为 %d", credits.State().Remaining)
	}
}

func TestRegenerate_Success(t *testing.T) {
	newImage := fmt.Sprintf("data:image/png;base64,%s", "d29ybGQ=")
	provider := &fakeProvider{
		imageFunc: func(req gen.ImageRequest) (string, error) {
			return newImage, nil
		},
	}
	svc, board, credits := newTestGeneration(t, provider, 2, 300)

	generation := board.Generation()
	if err := board.MarkCompleted(generation, 1, testImageURL); err != nil {
		t.Fatalf("标记完成失败: %v", err)
	}

	if err := svc.Regenerate(context.Background(), 1, "", models.AspectPortrait); err != nil {
		t.Fatalf("重新生成失败: %v", err)
	}

	scene, _ := board.Scene(1)
	if scene.Status != models.SceneStatusCompleted {
		t.Errorf("状态应为 completed，实际为 %s", scene.Status)
	}
	if scene.ImageURL != newImage {
		t.Error("应替换为新生成的图像")
	}
	if credits.State().Remaining != 300-CostImagePerScene {
		t.Errorf("余额应为 %d，实际为 %d", 300-CostImagePerScene, credits.State().Remaining)
	}
}

func TestRegenerate_UnknownScene(t *testing.T) {
	svc, _, _ := newTestGeneration(t, &fakeProvider{}, 2, 300)

	err := svc.Regenerate(context.Background(), 99, "", models.AspectLandscape)
	if !apperrors.IsNotFoundError(err) {
		t.Fatalf("应返回未找到错误，实际为 %v", err)
	}
}

func TestSmartPaste_ChargesOnlyWhenMatched(t *testing.T) {
	svc, board, credits := newTestGeneration(t, &fakeProvider{}, 3, 300)

	// 有标记：收固定费用
	matched, err := svc.SmartPaste("Scene 1: 开场镜头")
	if err != nil {
		t.Fatalf("智能粘贴失败: %v", err)
	}
	if matched != 1 {
		t.Errorf("应识别 1 个标记，实际为 %d", matched)
	}
	if credits.State().Remaining != 300-CostSmartPaste {
		t.Errorf("余额应为 %d，实际为 %d", 300-CostSmartPaste, credits.State().Remaining)
	}

	scene, _ := board.Scene(1)
	if scene.Prompt != "开场镜头" {
		t.Errorf("分镜 1 提示词错误: %q", scene.Prompt)
	}

	// 无标记：不收费、不修改
	matched, err = svc.SmartPaste("普通文本，没有标记")
	if err != nil {
		t.Fatalf("智能粘贴失败: %v", err)
	}
	if matched != 0 {
		t.Errorf("无标记应返回 0，实际为 %d", matched)
	}
	if credits.State().Remaining != 300-CostSmartPaste {
		t.Errorf("无标记时不应再次扣费，余额为 %d", credits.State().Remaining)
	}
}

func TestSmartPaste_InsufficientCredits(t *testing.T) {
	svc, board, _ := newTestGeneration(t, &fakeProvider{}, 3, 30)

	_, err := svc.SmartPaste("Scene 1: 开场镜头")
	if !apperrors.IsInsufficientCreditsError(err) {
		t.Fatalf("应返回积分不足错误，实际为 %v", err)
	}

	scene, _ := board.Scene(1)
	if scene.Prompt != "" {
		t.Errorf("拒绝时不应修改画板，提示词为 %q", scene.Prompt)
	}
}

func TestGenerateAll_EmptyPromptFallback(t *testing.T) {
	var captured []string
	provider := &fakeProvider{
		imageFunc: func(req gen.ImageRequest) (string, error) {
			captured = append(captured, req.Prompt)
			return testImageURL, nil
		},
	}
	svc, board, _ := newTestGeneration(t, provider, 2, 300)
	board.SetPrompt(2, "有内容的镜头")

	if _, err := svc.GenerateAll(context.Background(), "", models.AspectLandscape); err != nil {
		t.Fatalf("批量生成失败: %v", err)
	}

	if len(captured) != 2 {
		t.Fatalf("应有 2 次调用，实际为 %d", len(captured))
	}
	if captured[0] != "Scene 1" {
		t.Errorf("空提示词应回退为占位提示，实际为 %q", captured[0])
	}
	if captured[1] != "有内容的镜头" {
		t.Errorf("提示词传递错误: %q", captured[1])
	}
}

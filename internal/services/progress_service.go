// internal/services/progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// ProgressUpdate 表示批量生成任务的进度更新
type ProgressUpdate struct {
	Progress  int    `json:"progress"`           // 进度百分比 (0-100)
	Message   string `json:"message"`            // 描述性消息
	Status    string `json:"status"`             // 状态：running, completed, failed
	SceneID   int    `json:"scene_id,omitempty"` // 当前处理的分镜编号
	Completed int    `json:"completed"`          // 已成功的分镜数
	Failed    int    `json:"failed"`             // 已失败的分镜数
}

// ProgressTracker 跟踪一次批量生成任务的进度
type ProgressTracker struct {
	TaskID      string                       // 任务唯一标识符
	Progress    int                          // 进度百分比 (0-100)
	Message     string                       // 当前状态描述
	Status      string                       // 状态：running, completed, failed
	SceneID     int                          // 当前处理的分镜编号
	Completed   int                          // 已成功的分镜数
	Failed      int                          // 已失败的分镜数
	StartTime   time.Time                    // 开始时间
	UpdateTime  time.Time                    // 最后更新时间
	Subscribers map[chan ProgressUpdate]bool // 订阅进度更新的通道
	Done        chan struct{}                // 任务完成信号
	mutex       sync.Mutex                   // 保护并发访问
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 如果已存在，返回现有追踪器
	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		Progress:    0,
		Message:     "任务初始化中...",
		Status:      "running",
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// UpdateScene 记录当前处理到的分镜及累计结果
func (t *ProgressTracker) UpdateScene(sceneID, index, total, completed, failed int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if total > 0 {
		t.Progress = index * 100 / total
	}
	t.SceneID = sceneID
	t.Completed = completed
	t.Failed = failed
	t.Message = fmt.Sprintf("正在生成分镜 %d (%d/%d)", sceneID, index+1, total)
	t.UpdateTime = time.Now()

	t.notifyLocked()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != "running" {
		return
	}

	t.Progress = 100
	if message != "" {
		t.Message = message
	} else {
		t.Message = "任务已完成"
	}
	t.Status = "completed"
	t.SceneID = 0
	t.UpdateTime = time.Now()

	t.notifyLocked()
	close(t.Done)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != "running" {
		return
	}

	t.Message = fmt.Sprintf("任务失败: %s", errorMsg)
	t.Status = "failed"
	t.UpdateTime = time.Now()

	t.notifyLocked()
	close(t.Done)
}

// snapshotLocked 构造当前状态的副本，调用方需持有锁
func (t *ProgressTracker) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{
		Progress:  t.Progress,
		Message:   t.Message,
		Status:    t.Status,
		SceneID:   t.SceneID,
		Completed: t.Completed,
		Failed:    t.Failed,
	}
}

// Snapshot 返回当前进度的一致性副本，供轮询读取
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshotLocked()
}

// notifyLocked 向所有订阅者推送当前状态，调用方需持有锁
func (t *ProgressTracker) notifyLocked() {
	update := t.snapshotLocked()

	for subscriber := range t.Subscribers {
		// 非阻塞发送，如果通道已满则跳过
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Subscribe 订阅进度更新
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 16)
	t.Subscribers[subscriber] = true

	// 立即推送当前状态
	subscriber <- t.snapshotLocked()

	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// StartCleanup 启动后台协程，按固定间隔回收已结束的任务
func (s *ProgressService) StartCleanup(interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			s.CleanupCompletedTasks(maxAge)
		}
	}()
}

// CleanupCompletedTasks 清理超过保留期限的已完成任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for taskID, tracker := range s.trackers {
		tracker.mutex.Lock()
		expired := tracker.Status != "running" && now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if expired {
			delete(s.trackers, taskID)
		}
	}
}

package services

import (
	"testing"
	"time"
)

func TestCreateTrackerIsIdempotent(t *testing.T) {
	svc := NewProgressService()

	first := svc.CreateTracker("task_1")
	second := svc.CreateTracker("task_1")
	if first != second {
		t.Error("相同任务标识应返回同一个跟踪器")
	}

	if _, exists := svc.GetTracker("task_1"); !exists {
		t.Error("应能查询到已创建的跟踪器")
	}
	if _, exists := svc.GetTracker("task_2"); exists {
		t.Error("不应查询到未创建的跟踪器")
	}
}

func TestSubscribePushesCurrentState(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task_1")
	tracker.UpdateScene(3, 2, 4, 2, 0)

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	select {
	case update := <-updates:
		if update.SceneID != 3 {
			t.Errorf("应推送当前分镜编号 3，实际为 %d", update.SceneID)
		}
		if update.Progress != 50 {
			t.Errorf("进度应为 50，实际为 %d", update.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("订阅后应立即收到当前状态")
	}
}

func TestUpdateSceneProgress(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task_1")

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)
	<-updates // 丢弃订阅时推送的初始状态

	tracker.UpdateScene(2, 1, 4, 1, 0)

	select {
	case update := <-updates:
		if update.Progress != 25 {
			t.Errorf("进度应为 25，实际为 %d", update.Progress)
		}
		if update.Completed != 1 || update.Failed != 0 {
			t.Errorf("累计结果错误: completed=%d failed=%d", update.Completed, update.Failed)
		}
		if update.Status != "running" {
			t.Errorf("状态应为 running，实际为 %s", update.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("更新后应收到进度推送")
	}
}

func TestCompleteClosesDone(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task_1")

	tracker.Complete("全部生成完成")

	select {
	case <-tracker.Done:
	default:
		t.Fatal("完成后 Done 通道应已关闭")
	}

	if tracker.Status != "completed" || tracker.Progress != 100 {
		t.Errorf("完成状态错误: status=%s progress=%d", tracker.Status, tracker.Progress)
	}

	// 重复终结不应二次关闭通道
	tracker.Complete("再次完成")
	tracker.Fail("不应生效")
	if tracker.Status != "completed" {
		t.Errorf("已终结的任务状态不应改变，实际为 %s", tracker.Status)
	}
}

func TestFailMarksTask(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task_1")

	tracker.Fail("积分不足")

	if tracker.Status != "failed" {
		t.Errorf("状态应为 failed，实际为 %s", tracker.Status)
	}
	select {
	case <-tracker.Done:
	default:
		t.Fatal("失败后 Done 通道应已关闭")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task_1")

	// 订阅后从不读取，缓冲填满后推送应被丢弃而不是阻塞
	stalled := tracker.Subscribe()
	defer tracker.Unsubscribe(stalled)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tracker.UpdateScene(1, i, 100, i, 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("缓冲满的订阅者不应阻塞进度更新")
	}
}

func TestStartCleanupRemovesFinishedTasks(t *testing.T) {
	svc := NewProgressService()

	finished := svc.CreateTracker("task_done")
	finished.Complete("已完成")
	svc.CreateTracker("task_running")

	svc.StartCleanup(5*time.Millisecond, 0)

	deadline := time.After(2 * time.Second)
	for {
		if _, exists := svc.GetTracker("task_done"); !exists {
			break
		}
		select {
		case <-deadline:
			t.Fatal("已完成的任务应在期限内被回收")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, exists := svc.GetTracker("task_running"); !exists {
		t.Error("运行中的任务不应被回收")
	}
}

func TestSnapshotConcurrentWithUpdates(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task_1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			tracker.UpdateScene(1, i, 200, i, 0)
		}
		tracker.Complete("")
		close(done)
	}()

	// 与写协程并发轮询，快照读取必须走锁
	deadline := time.After(2 * time.Second)
	for {
		snapshot := tracker.Snapshot()
		if snapshot.Status != "running" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("任务应在期限内完成")
		default:
		}
	}
	<-done

	final := tracker.Snapshot()
	if final.Status != "completed" || final.Progress != 100 {
		t.Errorf("最终快照错误: %+v", final)
	}
}

func TestCleanupCompletedTasks(t *testing.T) {
	svc := NewProgressService()

	finished := svc.CreateTracker("finished")
	finished.Complete("")
	svc.CreateTracker("running")

	// 保留期为零，已终结的任务立即清理
	time.Sleep(10 * time.Millisecond)
	svc.CleanupCompletedTasks(0)

	if _, exists := svc.GetTracker("finished"); exists {
		t.Error("已完成的任务应被清理")
	}
	if _, exists := svc.GetTracker("running"); !exists {
		t.Error("运行中的任务不应被清理")
	}
}

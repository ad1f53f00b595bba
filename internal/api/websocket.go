// internal/api/websocket.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/CineGenStudio/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// ProgressWebSocket 通过 WebSocket 推送批量生成任务的实时进度
// 任务完成或失败后推送最终状态并关闭连接
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务不存在")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warning("WebSocket 升级失败", map[string]interface{}{
			"task_id": taskID,
			"error":   err.Error(),
		})
		return
	}
	defer conn.Close()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	// 读取循环只用于探测客户端断开
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				utils.GetLogger().Warning("WebSocket 推送进度失败", map[string]interface{}{
					"task_id": taskID,
					"error":   err.Error(),
				})
				return
			}

			if update.Status != "running" {
				return
			}

		case <-tracker.Done:
			// 排空剩余的更新后退出
			for {
				select {
				case update := <-updates:
					conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					conn.WriteJSON(update)
				default:
					return
				}
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-clientGone:
			return
		}
	}
}

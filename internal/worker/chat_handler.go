package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/tasks"
)

// ChatPersistenceHandler 处理聊天归档任务
type ChatPersistenceHandler struct {
	chatRepo repository.ChatRepository
}

// NewChatPersistenceHandler 创建 Handler 实例
func NewChatPersistenceHandler(chatRepo repository.ChatRepository) *ChatPersistenceHandler {
	if chatRepo == nil {
		panic("ChatRepository cannot be nil for ChatPersistenceHandler")
	}
	return &ChatPersistenceHandler{chatRepo: chatRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ChatPersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	var payload tasks.ChatPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(payload.Messages) == 0 {
		logCtx.Warn("Chat persist task carries no messages, skipping")
		return nil
	}

	// 主键冲突的消息会被忽略，重试是安全的
	if err := h.chatRepo.SaveBatch(ctx, payload.Messages); err != nil {
		logCtx.WithError(err).Errorf("Failed to save chat batch (size %d)", len(payload.Messages))
		return fmt.Errorf("failed to save chat batch for meeting %s: %w", payload.Messages[0].MeetingID, err)
	}

	logCtx.WithFields(logrus.Fields{
		"meeting_id": payload.Messages[0].MeetingID,
		"count":      len(payload.Messages),
	}).Debug("Chat persistence task processed successfully")
	return nil
}

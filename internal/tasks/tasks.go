package tasks

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
)

// 定义任务类型常量
const (
	TypeChatPersist       = "chat:persist"       // 聊天消息归档任务
	TypeMeetingCheckpoint = "meeting:checkpoint" // 周期性写回会议状态
)

// Enqueuer 是 asynq.Client 中服务层用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ChatPersistPayload 定义了聊天归档任务的数据结构
type ChatPersistPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// NewChatPersistTask 创建一个聊天归档任务
func NewChatPersistTask(messages ...domain.ChatMessage) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(ChatPersistPayload{Messages: messages})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeChatPersist, payloadBytes), nil
}

// NewMeetingCheckpointTask 创建检查点任务。任务本身不带数据，处理时读取本进程内存活的房间。
func NewMeetingCheckpointTask() *asynq.Task {
	return asynq.NewTask(TypeMeetingCheckpoint, nil)
}

package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// checkpointTimeout 单次检查点写库的超时时间
const checkpointTimeout = 30 * time.Second

// Checkpointer 把本进程内存活会议的状态写回数据库
type Checkpointer interface {
	Checkpoint(ctx context.Context) (int, error)
}

// MeetingCheckpointHandler 处理周期性的会议检查点任务
type MeetingCheckpointHandler struct {
	meetings Checkpointer
}

// NewMeetingCheckpointHandler 创建 Handler 实例
func NewMeetingCheckpointHandler(meetings Checkpointer) *MeetingCheckpointHandler {
	if meetings == nil {
		panic("Checkpointer cannot be nil for MeetingCheckpointHandler")
	}
	return &MeetingCheckpointHandler{meetings: meetings}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *MeetingCheckpointHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	checkCtx, cancel := context.WithTimeout(ctx, checkpointTimeout)
	defer cancel()
	n, err := h.meetings.Checkpoint(checkCtx)
	if err != nil {
		// 周期任务下一轮会重新写入，不需要 asynq 重试
		logCtx.WithError(err).Error("Meeting checkpoint failed")
		return nil
	}
	if n == 0 {
		logCtx.Debug("No live meetings, skipping checkpoint")
		return nil
	}
	logCtx.WithField("meetings", n).Info("Meeting checkpoint completed")
	return nil
}

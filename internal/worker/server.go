package worker

import (
	"context"
	"errors"
	"net/http" // 需要导入 http 以检查 ErrServerClosed

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	server   *asynq.Server
	log      *logrus.Entry
	chatRepo repository.ChatRepository
	meetings Checkpointer
}

// NewWorkerServer 创建一个新的 WorkerServer 实例。
// checkpointQueue 是本进程专用的队列：检查点只能由持有房间的进程处理。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, chatRepo repository.ChatRepository, meetings Checkpointer, checkpointQueue string, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	queues := map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	}
	if checkpointQueue != "" {
		queues[checkpointQueue] = 2
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:   server,
		log:      logEntry,
		chatRepo: chatRepo,
		meetings: meetings,
	}
}

// NewServeMux 注册所有任务处理器
func NewServeMux(chatRepo repository.ChatRepository, meetings Checkpointer) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeChatPersist, NewChatPersistenceHandler(chatRepo).ProcessTask)
	mux.HandleFunc(tasks.TypeMeetingCheckpoint, NewMeetingCheckpointHandler(meetings).ProcessTask)
	return mux
}

// Start 运行 Worker Server
// 它应该在一个单独的 goroutine 中调用
func (ws *WorkerServer) Start() {
	mux := NewServeMux(ws.chatRepo, ws.meetings)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		// 检查是否是正常关闭错误
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown 优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}

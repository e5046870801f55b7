package worker

import (
	"context"

	"jeesi/internal/config"
	"jeesi/internal/infra/queue"
	"jeesi/internal/metrics"
	"jeesi/internal/worker/handlers"
	"jeesi/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建旁路任务 worker，只消费 side_channel 队列
func NewServer(
	cfg config.RedisConfig,
	runner handlers.SideTaskRunner,
	concurrency int,
	logger *zap.Logger,
) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(
		queue.RedisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueSideChannel: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				metrics.RecordSideTask(task.Type(), "failed")
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.Use(countSuccess)

	usageHandler := handlers.NewUsageHandler(runner, logger)
	mux.HandleFunc(tasks.TypeRecordUsage, usageHandler.HandleRecordUsage)
	mux.HandleFunc(tasks.TypeTouchAPIKey, usageHandler.HandleTouchAPIKey)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// countSuccess 成功的任务计数，失败由 ErrorHandler 计数
func countSuccess(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		err := next.ProcessTask(ctx, t)
		if err == nil {
			metrics.RecordSideTask(t.Type(), "success")
		}
		return err
	})
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jeesi/internal/config"
	"jeesi/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueRecordUsage(ctx context.Context, payload tasks.RecordUsagePayload) error
	EnqueueTouchAPIKey(ctx context.Context, payload tasks.TouchAPIKeyPayload) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// RedisOpt 由配置构造 asynq 连接参数，worker 与 client 共用
func RedisOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	default:
		return asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	return &asynqClient{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *asynqClient) EnqueueRecordUsage(ctx context.Context, payload tasks.RecordUsagePayload) error {
	return c.enqueue(ctx, tasks.TypeRecordUsage, payload)
}

func (c *asynqClient) EnqueueTouchAPIKey(ctx context.Context, payload tasks.TouchAPIKeyPayload) error {
	return c.enqueue(ctx, tasks.TypeTouchAPIKey, payload)
}

// enqueue 旁路任务至多投递一次：不重试，失败由调用方记录
func (c *asynqClient) enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Second),
		asynq.Queue(tasks.QueueSideChannel),
	); err != nil {
		return fmt.Errorf("enqueue %s failed: %w", taskType, err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}

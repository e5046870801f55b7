package usage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"jeesi/internal/infra/queue"
	"jeesi/internal/logger"
	"jeesi/internal/metrics"
	"jeesi/internal/worker/tasks"

	"go.uber.org/zap"
)

// taskTimeout 单个旁路任务的执行上限
const taskTimeout = 30 * time.Second

// enqueueTimeout 投递到队列的等待上限
const enqueueTimeout = 5 * time.Second

// Dispatcher 旁路任务分发器
// 投递语义为至多一次：任务失败只记录日志与指标，不重试，也不影响已返回给客户端的响应
type Dispatcher interface {
	RecordUsage(ctx context.Context, payload tasks.RecordUsagePayload)
	TouchAPIKey(ctx context.Context, payload tasks.TouchAPIKeyPayload)
	// Close 停止接收新任务并等待已接收的任务结束
	Close(ctx context.Context) error
}

// inflight 跟踪已接收的旁路任务
// closed 的检查与 wg.Add 在同一把读锁内完成，Close 持写锁置位，Add 不会与 Wait 并发
type inflight struct {
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// acquire 登记一个任务，已关闭时返回 false
func (f *inflight) acquire() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	f.wg.Add(1)
	return true
}

func (f *inflight) release() {
	f.wg.Done()
}

// shutdown 拒绝新任务并等待已登记的任务，ctx 到期时放弃等待
func (f *inflight) shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待旁路任务结束超时: %w", ctx.Err())
	}
}

func dropped(ctx context.Context, taskType string) {
	logger.WithContext(ctx).Warn("分发器已关闭，丢弃旁路任务", zap.String("type", taskType))
	metrics.RecordSideTask(taskType, "dropped")
}

// InlineDispatcher 进程内 goroutine 执行旁路任务
type InlineDispatcher struct {
	recorder *Recorder
	tasks    inflight
}

// NewInlineDispatcher 创建进程内分发器
func NewInlineDispatcher(recorder *Recorder) *InlineDispatcher {
	return &InlineDispatcher{recorder: recorder}
}

func (d *InlineDispatcher) RecordUsage(ctx context.Context, payload tasks.RecordUsagePayload) {
	d.run(ctx, tasks.TypeRecordUsage, func(ctx context.Context) error {
		return d.recorder.Record(ctx, payload)
	})
}

func (d *InlineDispatcher) TouchAPIKey(ctx context.Context, payload tasks.TouchAPIKeyPayload) {
	d.run(ctx, tasks.TypeTouchAPIKey, func(ctx context.Context) error {
		return d.recorder.Touch(ctx, payload)
	})
}

// run 脱离请求上下文执行，请求结束或客户端断开不会取消旁路任务
func (d *InlineDispatcher) run(ctx context.Context, taskType string, fn func(ctx context.Context) error) {
	if !d.tasks.acquire() {
		dropped(ctx, taskType)
		return
	}

	metrics.SideTasksInFlight.Inc()
	detached := context.WithoutCancel(ctx)

	go func() {
		defer d.tasks.release()
		defer metrics.SideTasksInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(detached).Error("旁路任务 panic",
					zap.String("type", taskType),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
				metrics.RecordSideTask(taskType, "failed")
			}
		}()

		taskCtx, cancel := context.WithTimeout(detached, taskTimeout)
		defer cancel()

		if err := fn(taskCtx); err != nil {
			logger.WithContext(detached).Error("旁路任务执行失败",
				zap.String("type", taskType),
				zap.Error(err),
			)
			metrics.RecordSideTask(taskType, "failed")
			return
		}
		metrics.RecordSideTask(taskType, "success")
	}()
}

// Wait 等待所有已接收的任务结束
func (d *InlineDispatcher) Wait() {
	d.tasks.wg.Wait()
}

// Close 停止接收任务并等待执行中的任务，ctx 到期时放弃等待
func (d *InlineDispatcher) Close(ctx context.Context) error {
	return d.tasks.shutdown(ctx)
}

// QueueDispatcher 把旁路任务投递到 asynq 队列，由 worker 执行
// 投递在后台 goroutine 中进行，Redis 变慢不会阻塞请求
type QueueDispatcher struct {
	client queue.Client
	tasks  inflight
}

// NewQueueDispatcher 创建队列分发器
func NewQueueDispatcher(client queue.Client) *QueueDispatcher {
	return &QueueDispatcher{client: client}
}

func (d *QueueDispatcher) RecordUsage(ctx context.Context, payload tasks.RecordUsagePayload) {
	d.enqueue(ctx, tasks.TypeRecordUsage, func(ctx context.Context) error {
		return d.client.EnqueueRecordUsage(ctx, payload)
	})
}

func (d *QueueDispatcher) TouchAPIKey(ctx context.Context, payload tasks.TouchAPIKeyPayload) {
	d.enqueue(ctx, tasks.TypeTouchAPIKey, func(ctx context.Context) error {
		return d.client.EnqueueTouchAPIKey(ctx, payload)
	})
}

func (d *QueueDispatcher) enqueue(ctx context.Context, taskType string, fn func(ctx context.Context) error) {
	if !d.tasks.acquire() {
		dropped(ctx, taskType)
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.tasks.release()

		enqCtx, cancel := context.WithTimeout(detached, enqueueTimeout)
		defer cancel()
		if err := fn(enqCtx); err != nil {
			logger.WithContext(detached).Error("旁路任务投递失败", zap.String("type", taskType), zap.Error(err))
			metrics.RecordSideTask(taskType, "dropped")
		}
	}()
}

// Wait 等待所有投递结束
func (d *QueueDispatcher) Wait() {
	d.tasks.wg.Wait()
}

// Close 等待进行中的投递后关闭队列客户端
func (d *QueueDispatcher) Close(ctx context.Context) error {
	if err := d.tasks.shutdown(ctx); err != nil {
		return errors.Join(err, d.client.Close())
	}
	return d.client.Close()
}

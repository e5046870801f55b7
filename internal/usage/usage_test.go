package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"jeesi/internal/credits"
	"jeesi/internal/worker/tasks"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:usage_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&credits.CreditBalance{}, &UsageLog{}))
	return db
}

type fakeToucher struct {
	mu     sync.Mutex
	keyIDs []string
	err    error
}

func (f *fakeToucher) TouchLastUsed(_ context.Context, keyID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyIDs = append(f.keyIDs, keyID)
	return f.err
}

type fakeDeductor struct{ err error }

func (f fakeDeductor) Deduct(context.Context, string, int64) error { return f.err }

func newRecorder(t *testing.T) (*Recorder, *credits.Service, *gorm.DB) {
	db := setupTestDB(t)
	creditSvc := credits.NewService(db, credits.Config{DefaultCredits: 5, DefaultPlan: credits.PlanFree})
	return NewRecorder(db, creditSvc, &fakeToucher{}), creditSvc, db
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("扣费并写日志", func(t *testing.T) {
		rec, creditSvc, db := newRecorder(t)
		_, err := creditSvc.GetOrCreate(ctx, "user-1")
		require.NoError(t, err)

		err = rec.Record(ctx, tasks.RecordUsagePayload{
			UserID:        "user-1",
			AgentID:       "agent-1",
			APIKeyID:      "key-1",
			Operation:     tasks.OperationAgentRuntime,
			Credits:       1,
			Model:         "google/gemini-2.5-flash",
			MessageCount:  2,
			HasMultimodal: true,
		})
		require.NoError(t, err)

		balance, err := creditSvc.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), balance.CreditsRemaining)
		assert.Equal(t, int64(1), balance.CreditsUsedThisMonth)

		var logs []UsageLog
		require.NoError(t, db.Find(&logs).Error)
		require.Len(t, logs, 1)
		assert.Equal(t, int64(1), logs[0].CreditsUsed)
		assert.Equal(t, tasks.OperationAgentRuntime, logs[0].OperationType)
		require.NotNil(t, logs[0].AgentID)
		assert.Equal(t, "agent-1", *logs[0].AgentID)
		assert.Equal(t, true, logs[0].Metadata["has_multimodal"])
		assert.EqualValues(t, 2, logs[0].Metadata["message_count"])
		assert.Equal(t, "key-1", logs[0].Metadata["api_key_id"])
	})

	t.Run("余额耗尽时记录未扣费日志", func(t *testing.T) {
		rec, creditSvc, db := newRecorder(t)
		_, err := creditSvc.GetOrCreate(ctx, "user-2")
		require.NoError(t, err)
		require.NoError(t, db.Model(&credits.CreditBalance{}).Where("user_id = ?", "user-2").
			Update("credits_remaining", 0).Error)

		err = rec.Record(ctx, tasks.RecordUsagePayload{UserID: "user-2", Operation: tasks.OperationAgentChat, Credits: 1})
		require.NoError(t, err)

		var log UsageLog
		require.NoError(t, db.First(&log).Error)
		assert.Zero(t, log.CreditsUsed)
		assert.Nil(t, log.AgentID)
		assert.Equal(t, true, log.Metadata["uncharged"])
	})

	t.Run("扣费失败仍写日志并返回错误", func(t *testing.T) {
		db := setupTestDB(t)
		rec := NewRecorder(db, fakeDeductor{err: errors.New("db down")}, &fakeToucher{})

		err := rec.Record(ctx, tasks.RecordUsagePayload{UserID: "user-3", Operation: tasks.OperationAgentChat, Credits: 1})
		assert.Error(t, err)

		var count int64
		db.Model(&UsageLog{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("匿名请求不记录", func(t *testing.T) {
		rec, _, db := newRecorder(t)
		require.NoError(t, rec.Record(ctx, tasks.RecordUsagePayload{Operation: tasks.OperationAgentChat, Credits: 1}))
		var count int64
		db.Model(&UsageLog{}).Count(&count)
		assert.Zero(t, count)
	})
}

func TestRecorder_ConcurrentAtBalanceOne(t *testing.T) {
	ctx := context.Background()
	rec, creditSvc, db := newRecorder(t)
	_, err := creditSvc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, db.Model(&credits.CreditBalance{}).Where("user_id = ?", "user-1").
		Update("credits_remaining", 1).Error)

	dispatcher := NewInlineDispatcher(rec)
	for i := 0; i < 2; i++ {
		dispatcher.RecordUsage(ctx, tasks.RecordUsagePayload{UserID: "user-1", Operation: tasks.OperationAgentRuntime, Credits: 1})
	}
	dispatcher.Wait()

	balance, err := creditSvc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.CreditsRemaining)

	var logs []UsageLog
	require.NoError(t, db.Order("credits_used DESC").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(1), logs[0].CreditsUsed)
	assert.Equal(t, int64(0), logs[1].CreditsUsed)
}

func TestInlineDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("请求上下文取消不影响旁路任务", func(t *testing.T) {
		toucher := &fakeToucher{}
		d := NewInlineDispatcher(NewRecorder(setupTestDB(t), fakeDeductor{}, toucher))

		reqCtx, cancel := context.WithCancel(ctx)
		cancel()
		d.TouchAPIKey(reqCtx, tasks.TouchAPIKeyPayload{KeyID: "key-1"})
		require.NoError(t, d.Close(ctx))

		assert.Equal(t, []string{"key-1"}, toucher.keyIDs)
	})

	t.Run("panic 被恢复", func(t *testing.T) {
		d := NewInlineDispatcher(NewRecorder(setupTestDB(t), nil, nil))
		// credits 为 nil，Deduct 会 panic
		d.RecordUsage(ctx, tasks.RecordUsagePayload{UserID: "u", Operation: tasks.OperationAgentChat, Credits: 1})
		assert.NotPanics(t, d.Wait)
	})

	t.Run("关闭后丢弃新任务", func(t *testing.T) {
		toucher := &fakeToucher{}
		d := NewInlineDispatcher(NewRecorder(setupTestDB(t), fakeDeductor{}, toucher))
		require.NoError(t, d.Close(ctx))

		d.TouchAPIKey(ctx, tasks.TouchAPIKeyPayload{KeyID: "key-1"})
		d.Wait()
		assert.Empty(t, toucher.keyIDs)
	})
}

type fakeQueueClient struct {
	mu      sync.Mutex
	usage   []tasks.RecordUsagePayload
	touches []tasks.TouchAPIKeyPayload
	err     error
	closed  bool
}

func (f *fakeQueueClient) EnqueueRecordUsage(_ context.Context, p tasks.RecordUsagePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, p)
	return f.err
}

func (f *fakeQueueClient) EnqueueTouchAPIKey(_ context.Context, p tasks.TouchAPIKeyPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches = append(f.touches, p)
	return f.err
}

func (f *fakeQueueClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeQueueClient) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestQueueDispatcher(t *testing.T) {
	ctx := context.Background()
	client := &fakeQueueClient{}
	d := NewQueueDispatcher(client)

	d.RecordUsage(ctx, tasks.RecordUsagePayload{UserID: "u1", Credits: 1})
	d.TouchAPIKey(ctx, tasks.TouchAPIKeyPayload{KeyID: "k1"})
	d.Wait()
	require.Len(t, client.usage, 1)
	require.Len(t, client.touches, 1)
	assert.Equal(t, "u1", client.usage[0].UserID)

	client.setErr(errors.New("redis down"))
	assert.NotPanics(t, func() {
		d.RecordUsage(ctx, tasks.RecordUsagePayload{UserID: "u1", Credits: 1})
		d.Wait()
	})

	require.NoError(t, d.Close(ctx))
	assert.True(t, client.closed)

	d.RecordUsage(ctx, tasks.RecordUsagePayload{UserID: "u1", Credits: 1})
	d.Wait()
	assert.Len(t, client.usage, 2)
}

func TestQueueDispatcher_DoesNotBlockCaller(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	client := &blockingQueueClient{release: release}
	d := NewQueueDispatcher(client)

	done := make(chan struct{})
	go func() {
		d.RecordUsage(ctx, tasks.RecordUsagePayload{UserID: "u1", Credits: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordUsage 等待了队列投递")
	}

	close(release)
	require.NoError(t, d.Close(ctx))
}

type blockingQueueClient struct {
	fakeQueueClient
	release chan struct{}
}

func (b *blockingQueueClient) EnqueueRecordUsage(ctx context.Context, p tasks.RecordUsagePayload) error {
	<-b.release
	return b.fakeQueueClient.EnqueueRecordUsage(ctx, p)
}

func TestInlineDispatcher_ConcurrentClose(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		toucher := &fakeToucher{}
		d := NewInlineDispatcher(NewRecorder(setupTestDB(t), fakeDeductor{}, toucher))

		var callers sync.WaitGroup
		for i := 0; i < 20; i++ {
			callers.Add(1)
			go func(i int) {
				defer callers.Done()
				d.TouchAPIKey(ctx, tasks.TouchAPIKeyPayload{KeyID: fmt.Sprintf("key-%d", i)})
			}(i)
		}

		require.NoError(t, d.Close(ctx))
		toucher.mu.Lock()
		atClose := len(toucher.keyIDs)
		toucher.mu.Unlock()

		// Close 返回后不会再有任务被接收或执行
		callers.Wait()
		d.Wait()
		toucher.mu.Lock()
		assert.Equal(t, atClose, len(toucher.keyIDs))
		toucher.mu.Unlock()
	}
}

type wordEncoder struct{}

func (wordEncoder) Encode(text string, _ []string, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func TestTokenEstimator(t *testing.T) {
	e := NewTokenEstimatorWithEncoder(wordEncoder{})
	assert.Equal(t, (3+perMessageOverhead)+(1+perMessageOverhead), e.Estimate([]string{"hello there world", "hi"}))
	assert.Zero(t, e.Estimate(nil))

	var nilEstimator *TokenEstimator
	assert.Zero(t, nilEstimator.Estimate([]string{"x"}))

	broken := &TokenEstimator{load: func() (Encoder, error) { return nil, errors.New("offline") }}
	assert.Zero(t, broken.Estimate([]string{"x"}))
}

func TestService_ListUsage(t *testing.T) {
	ctx := context.Background()
	rec, _, db := newRecorder(t)
	rec.credits = fakeDeductor{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(ctx, tasks.RecordUsagePayload{
			UserID: "user-1", Operation: tasks.OperationAgentChat, Credits: 1,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, rec.Record(ctx, tasks.RecordUsagePayload{
		UserID: "user-1", Operation: tasks.OperationAgentRuntime, Credits: 1, OccurredAt: base.Add(time.Hour),
	}))
	require.NoError(t, rec.Record(ctx, tasks.RecordUsagePayload{UserID: "user-2", Operation: tasks.OperationAgentChat, Credits: 1}))

	svc := NewService(db)

	logs, total, err := svc.ListUsage(ctx, "user-1", ListUsageRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, logs, 2)
	assert.Equal(t, tasks.OperationAgentRuntime, logs[0].OperationType)

	logs, total, err = svc.ListUsage(ctx, "user-1", ListUsageRequest{OperationType: tasks.OperationAgentChat})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, logs, 3)
}

package credits

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:credits_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库串行化写入，避免 shared cache 表锁
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&CreditBalance{}))
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	db := setupTestDB(t)
	return NewService(db, Config{DefaultCredits: 5, DefaultPlan: PlanFree}), db
}

func setRemaining(t *testing.T, db *gorm.DB, userID string, remaining int64) {
	t.Helper()
	require.NoError(t, db.Model(&CreditBalance{}).Where("user_id = ?", userID).
		Update("credits_remaining", remaining).Error)
}

func TestGate(t *testing.T) {
	ctx := context.Background()

	t.Run("首次访问自动创建默认积分", func(t *testing.T) {
		svc, db := newTestService(t)
		balance, err := svc.Gate(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance.CreditsRemaining)
		assert.Equal(t, PlanFree, balance.PlanType)

		_, err = svc.Gate(ctx, "user-1")
		require.NoError(t, err)
		var count int64
		db.Model(&CreditBalance{}).Where("user_id = ?", "user-1").Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("余额为 0 拒绝", func(t *testing.T) {
		svc, db := newTestService(t)
		_, err := svc.GetOrCreate(ctx, "user-2")
		require.NoError(t, err)
		setRemaining(t, db, "user-2", 0)

		_, err = svc.Gate(ctx, "user-2")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})

	t.Run("负余额同样拒绝", func(t *testing.T) {
		svc, db := newTestService(t)
		_, err := svc.GetOrCreate(ctx, "user-3")
		require.NoError(t, err)
		setRemaining(t, db, "user-3", -1)

		_, err = svc.Gate(ctx, "user-3")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})
}

func TestDeduct(t *testing.T) {
	ctx := context.Background()

	t.Run("正常扣减", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.GetOrCreate(ctx, "u")
		require.NoError(t, err)

		require.NoError(t, svc.Deduct(ctx, "u", 1))
		balance, err := svc.GetBalance(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, int64(4), balance.CreditsRemaining)
		assert.Equal(t, int64(1), balance.CreditsUsedThisMonth)
	})

	t.Run("余额为 0 不扣减", func(t *testing.T) {
		svc, db := newTestService(t)
		_, err := svc.GetOrCreate(ctx, "u")
		require.NoError(t, err)
		setRemaining(t, db, "u", 0)

		assert.ErrorIs(t, svc.Deduct(ctx, "u", 1), ErrInsufficientCredits)
		balance, err := svc.GetBalance(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance.CreditsRemaining)
	})

	t.Run("扣减不低于 0", func(t *testing.T) {
		svc, db := newTestService(t)
		_, err := svc.GetOrCreate(ctx, "u")
		require.NoError(t, err)
		setRemaining(t, db, "u", 2)

		require.NoError(t, svc.Deduct(ctx, "u", 3))
		balance, err := svc.GetBalance(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance.CreditsRemaining)
	})

	t.Run("账户不存在", func(t *testing.T) {
		svc, _ := newTestService(t)
		assert.ErrorIs(t, svc.Deduct(ctx, "ghost", 1), ErrInsufficientCredits)
	})

	t.Run("非法金额", func(t *testing.T) {
		svc, _ := newTestService(t)
		assert.ErrorIs(t, svc.Deduct(ctx, "u", 0), ErrInvalidAmount)
	})
}

func TestDeduct_ConcurrentAtBalanceOne(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	_, err := svc.GetOrCreate(ctx, "racer")
	require.NoError(t, err)
	setRemaining(t, db, "racer", 1)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Deduct(ctx, "racer", 1)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrInsufficientCredits), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	balance, err := svc.GetBalance(ctx, "racer")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.CreditsRemaining)
}

func TestDeduct_ConditionalUpdateSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	svc := NewService(db, Config{DefaultCredits: 5})

	pattern := regexp.QuoteMeta(`UPDATE "credit_balances" SET "credits_remaining"=CASE WHEN credits_remaining > $1 THEN credits_remaining - $2 ELSE 0 END,"credits_used_this_month"=credits_used_this_month + $3,"updated_at"=$4 WHERE user_id = $5 AND credits_remaining > 0`)

	mock.ExpectExec(pattern).
		WithArgs(int64(1), int64(1), int64(1), sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.Deduct(context.Background(), "user-1", 1))

	mock.ExpectExec(pattern).
		WithArgs(int64(1), int64(1), int64(1), sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, svc.Deduct(context.Background(), "user-1", 1), ErrInsufficientCredits)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	balance, err := svc.Grant(ctx, "u", 100, PlanPro)
	require.NoError(t, err)
	assert.Equal(t, int64(105), balance.CreditsRemaining)
	assert.Equal(t, PlanPro, balance.PlanType)

	_, err = svc.Grant(ctx, "u", 10, PlanType("enterprise"))
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = svc.Grant(ctx, "u", -1, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Grant(ctx, "", 10, "")
	assert.ErrorIs(t, err, ErrMissingUser)
	var count int64
	require.NoError(t, svc.db.Model(&CreditBalance{}).Where("user_id = ?", "").Count(&count).Error)
	assert.Zero(t, count)
}

func TestMonthlyReset(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	march := time.Date(2026, time.March, 20, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return march }
	_, err := svc.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, svc.Deduct(ctx, "a", 2))
	require.NoError(t, svc.Deduct(ctx, "b", 1))

	april := time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return april }

	t.Run("读取时重置", func(t *testing.T) {
		balance, err := svc.GetBalance(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance.CreditsUsedThisMonth)
		assert.Equal(t, int64(3), balance.CreditsRemaining)
		assert.True(t, balance.PeriodStart.Equal(monthStart(april)))
	})

	t.Run("批量重置剩余账户", func(t *testing.T) {
		n, err := svc.ResetMonthlyUsage(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		var b CreditBalance
		require.NoError(t, db.Where("user_id = ?", "b").First(&b).Error)
		assert.Equal(t, int64(0), b.CreditsUsedThisMonth)
	})
}

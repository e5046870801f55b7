package infra

import (
	"context"
	"errors"
	"time"

	"jeesi/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// GormZapLogger 把 GORM 日志输出到 Zap，并带上请求 ID
type GormZapLogger struct {
	ZapLogger                 *zap.Logger
	LogLevel                  gormLogger.LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
}

func (l *GormZapLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Info {
		l.with(ctx).Sugar().Infof(msg, data...)
	}
}

func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Warn {
		l.with(ctx).Sugar().Warnf(msg, data...)
	}
}

func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Error {
		l.with(ctx).Sugar().Errorf(msg, data...)
	}
}

// Trace 记录 SQL 执行情况：错误、慢查询，Info 级别下记录全部语句
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	log := l.with(ctx)

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && (!errors.Is(err, gormLogger.ErrRecordNotFound) || !l.IgnoreRecordNotFoundError):
		log.Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold:
		log.Warn("SQL 慢查询", fields...)
	case l.LogLevel >= gormLogger.Info:
		log.Debug("SQL 执行", fields...)
	}
}

func (l *GormZapLogger) with(ctx context.Context) *zap.Logger {
	base := l.ZapLogger
	if base == nil {
		base = logger.Get()
	}
	if ctx != nil {
		if id := logger.GetRequestID(ctx); id != "" {
			return base.With(zap.String("request_id", id))
		}
	}
	return base
}

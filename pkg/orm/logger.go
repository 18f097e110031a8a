package orm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// zapLogger routes gorm's logs to zap. Statements are logged at debug level,
// statements slower than slow at warn level, and failures other than
// gorm.ErrRecordNotFound at error level.
type zapLogger struct {
	l     *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

// NewLogger returns a gorm logger writing to l.
func NewLogger(l *zap.Logger, slow time.Duration) gormlogger.Interface {
	return &zapLogger{l: l.WithOptions(zap.AddCallerSkip(3)), level: gormlogger.Info, slow: slow}
}

func (z *zapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *z
	c.level = level
	return &c
}

func (z *zapLogger) Info(_ context.Context, msg string, args ...any) {
	if z.level >= gormlogger.Info {
		z.l.Info(fmt.Sprintf(msg, args...))
	}
}

func (z *zapLogger) Warn(_ context.Context, msg string, args ...any) {
	if z.level >= gormlogger.Warn {
		z.l.Warn(fmt.Sprintf(msg, args...))
	}
}

func (z *zapLogger) Error(_ context.Context, msg string, args ...any) {
	if z.level >= gormlogger.Error {
		z.l.Error(fmt.Sprintf(msg, args...))
	}
}

func (z *zapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	fields := func() []zap.Field {
		sql, rows := fc()
		return []zap.Field{zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed)}
	}

	switch {
	case err != nil && z.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		z.l.Error("query failed", append(fields(), zap.Error(err))...)
	case z.slow > 0 && elapsed > z.slow && z.level >= gormlogger.Warn:
		z.l.Warn("slow query", fields()...)
	case z.level >= gormlogger.Info && z.l.Core().Enabled(zap.DebugLevel):
		z.l.Debug("query", fields()...)
	}
}

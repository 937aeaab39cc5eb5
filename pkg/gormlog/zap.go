// Package gormlog routes gorm statement logs through the service logger so
// SQL emitted while advancing a dunning process carries the same job and
// dunning_process_id fields as the rest of that run.
package gormlog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"github.com/fatflowers/dunning/pkg/logctx"
)

const defaultSlowQuery = 500 * time.Millisecond

// Logger implements gorm.io/gorm/logger.Interface.
type Logger struct {
	base  *zap.SugaredLogger
	level gormlogger.LogLevel
	slow  time.Duration
}

// New logs failed and slow statements only. The sweep issues several
// statements per process, so per-statement logging needs LogMode(Info).
func New(base *zap.SugaredLogger, slow time.Duration) *Logger {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &Logger{base: base, level: gormlogger.Warn, slow: slow}
}

func (l *Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

// Info, Warn and Error receive printf-style messages from gorm internals
// such as the migrator.
func (l *Logger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		logctx.FromCtx(ctx, l.base).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *Logger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		logctx.FromCtx(ctx, l.base).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *Logger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		logctx.FromCtx(ctx, l.base).Error(fmt.Sprintf(msg, data...))
	}
}

func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []interface{}{
		"op", statementOp(sql),
		"rows", rows,
		"elapsed_ms", elapsed.Milliseconds(),
		"caller", caller(utils.FileWithLineNum()),
		"sql", sql,
	}
	lg := logctx.FromCtx(ctx, l.base)

	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		// Lookups of unknown ids are routine for webhooks and admin reads.
		if l.level >= gormlogger.Info {
			lg.Infow("gorm_not_found", fields...)
		}
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		if l.level >= gormlogger.Warn {
			lg.Warnw("gorm_canceled", append(fields, "err", err)...)
		}
	case err != nil:
		if l.level >= gormlogger.Error {
			lg.Errorw("gorm_error", append(fields, "err", err)...)
		}
	case elapsed > l.slow:
		if l.level >= gormlogger.Warn {
			lg.Warnw("gorm_slow", append(fields, "threshold_ms", l.slow.Milliseconds())...)
		}
	case l.level >= gormlogger.Info:
		lg.Infow("gorm", fields...)
	}
}

// statementOp returns the leading SQL keyword in lower case.
func statementOp(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t("); i > 0 {
		sql = sql[:i]
	}
	return strings.ToLower(sql)
}

// caller trims an absolute source path to the part under one of the module's
// top-level package directories.
func caller(s string) string {
	p := strings.ReplaceAll(s, `\`, "/")
	for _, root := range []string{"/internal/", "/pkg/", "/cmd/"} {
		if i := strings.LastIndex(p, root); i >= 0 {
			return p[i+1:]
		}
	}
	return path.Base(p)
}

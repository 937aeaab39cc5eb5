package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ctxKey string

const (
	loggerKey   ctxKey = "logger"
	traceIDKey  ctxKey = "traceID"
	providerKey ctxKey = "provider"
	processKey  ctxKey = "dunning_process_id"
	jobKey      ctxKey = "job"
)

// GinLoggerKey is the gin.Context key the request logger middleware uses.
const GinLoggerKey = "logger"

// WithLogger stores a pre-enriched logger on ctx.
func WithLogger(ctx context.Context, lg *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, lg)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, provider)
}

func WithProcessID(ctx context.Context, processID string) context.Context {
	return context.WithValue(ctx, processKey, processID)
}

// WithJob tags ctx with the background job running under it.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey, job)
}

// TraceID returns the trace id stored on ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tid, _ := ctx.Value(traceIDKey).(string)
	return tid
}

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(GinLoggerKey); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	// fall back to ctx-based enrichment
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id, provider, job and dunning_process_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	lg := base
	if stored, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && stored != nil {
		lg = stored
	}
	var fields []interface{}
	if tid, ok := ctx.Value(traceIDKey).(string); ok && tid != "" && lg == base {
		fields = append(fields, "trace_id", tid)
	}
	if p, ok := ctx.Value(providerKey).(string); ok && p != "" {
		fields = append(fields, "provider", p)
	}
	if job, ok := ctx.Value(jobKey).(string); ok && job != "" {
		fields = append(fields, "job", job)
	}
	if pid, ok := ctx.Value(processKey).(string); ok && pid != "" {
		fields = append(fields, "dunning_process_id", pid)
	}
	if len(fields) > 0 {
		return lg.With(fields...)
	}
	return lg
}

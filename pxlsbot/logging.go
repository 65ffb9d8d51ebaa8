package pxlsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

const loggerContextKey contextKey = "logger"

type contextKey string

// WithLogger returns a copy of ctx carrying the given logger.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, log)
}

// ContextLogger returns the logger carried by ctx, if any.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	log, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return log, ok
}

// discordGoLogLevels maps discordgo's integer log levels to slog levels.
var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
	discordgo.LogDebug:         slog.LevelDebug,
}

// discordgoLoggerFunc adapts a slog.Handler to discordgo's package-level
// logger hook.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(msgL int, _ int, format string, args ...any) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// gormStructuredLogger implements gorm's logger.Interface on top of slog,
// flagging queries slower than SlowThreshold.
type gormStructuredLogger struct {
	logger        *slog.Logger
	handler       slog.Handler
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		handler:       handler,
		SlowThreshold: slowThreshold,
	}
}

func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return gormStructuredLogger{
		logger:        slog.New(g.handler).With(loggerNameKey, "gorm"),
		handler:       g.handler,
		SlowThreshold: g.SlowThreshold,
	}
}

func (g gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	switch {
	// ErrRecordNotFound is an ordinary outcome for settings and mapping
	// lookups, not a query failure.
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		s, rowsAffected := fc()
		g.logger.ErrorContext(
			ctx,
			"query error",
			"error", err,
			"elapsed", elapsed,
			"rows", rowsAffected,
			"sql", s,
		)
	case g.SlowThreshold != 0 && elapsed > g.SlowThreshold:
		s, rowsAffected := fc()
		g.logger.WarnContext(
			ctx,
			"slow sql",
			"elapsed", elapsed,
			"threshold", g.SlowThreshold,
			"rows", rowsAffected,
			"sql", s,
		)
	default:
		s, rowsAffected := fc()
		g.logger.DebugContext(
			ctx,
			"query",
			"elapsed", elapsed,
			"rows", rowsAffected,
			"sql", s,
		)
	}
}

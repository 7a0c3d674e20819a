package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alphagov/pay-connector-sub019/internal/config"
)

// New builds the process logger from config. Production uses JSON output,
// everything else uses the console encoder.
func New(cfg config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.LogLevel); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	log, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("env", cfg.Environment)), nil
}

// FromContext returns the global logger enriched with the active trace and
// span ids so log lines can be joined to traces.
func FromContext(ctx context.Context) *zap.Logger {
	log := zap.L()
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

var Module = fx.Module("observability.logger",
	fx.Provide(New),
	fx.Invoke(func(log *zap.Logger) { zap.ReplaceGlobals(log) }),
)

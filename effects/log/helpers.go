package log

import (
	"context"
	"os"

	"github.com/on-the-ground/effect_ive_runtime/effects"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewTestLogger writes every level to stdout in console format.
func NewTestLogger() *zap.Logger {
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
	return zap.New(consoleCore)
}

// WithTestRuntime registers a runtime logging through NewTestLogger.
func WithTestRuntime(
	ctx context.Context,
	opts ...effects.Option,
) (context.Context, func() context.Context) {
	return effects.WithRuntime(
		ctx,
		append([]effects.Option{effects.WithLogger(NewTestLogger())}, opts...)...,
	)
}

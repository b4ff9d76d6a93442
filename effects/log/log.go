package log

import (
	"github.com/on-the-ground/effect_ive_runtime/effects"
	"go.uber.org/zap"
)

// LogLevel defines the severity level for log messages.
type LogLevel string

const (
	// LogInfo is used for general informational messages.
	LogInfo LogLevel = "info"

	// LogWarn is used for potentially harmful situations.
	LogWarn LogLevel = "warn"

	// LogError is used for error events that might still allow the application to continue running.
	LogError LogLevel = "error"

	// LogDebug is used for debugging messages with detailed internal information.
	LogDebug LogLevel = "debug"
)

// Eff logs msg with fields on the runtime logger of the running fiber.
// Unknown levels log at info.
func Eff(level LogLevel, msg string, fields map[string]interface{}) effects.Effect[effects.Unit] {
	return effects.FlatMap(effects.Logger(), func(logger *zap.Logger) effects.Effect[effects.Unit] {
		return effects.Total(func() effects.Unit {
			write(logger, level, msg, fields)
			return effects.Unit{}
		})
	})
}

func write(logger *zap.Logger, level LogLevel, msg string, fields map[string]interface{}) {
	zfs := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfs = append(zfs, zap.Any(k, v))
	}

	switch level {
	case LogInfo:
		logger.Info(msg, zfs...)
	case LogWarn:
		logger.Warn(msg, zfs...)
	case LogError:
		logger.Error(msg, zfs...)
	case LogDebug:
		logger.Debug(msg, zfs...)
	default:
		logger.Info(msg, zfs...)
	}
}

// Info is Eff at LogInfo without fields.
func Info(msg string) effects.Effect[effects.Unit] {
	return Eff(LogInfo, msg, nil)
}

// Debug is Eff at LogDebug without fields.
func Debug(msg string) effects.Effect[effects.Unit] {
	return Eff(LogDebug, msg, nil)
}

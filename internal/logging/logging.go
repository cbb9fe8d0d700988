package logging

import (
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. level is one of debug|info|warn|error.
func New(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "timestamp"

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// KafkaLogger routes kafka-go debug chatter into l.
func KafkaLogger(l *zap.Logger) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) { l.Debug(fmt.Sprintf(msg, args...)) }
}

// KafkaErrorLogger routes kafka-go errors into l.
func KafkaErrorLogger(l *zap.Logger) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) { l.Error(fmt.Sprintf(msg, args...)) }
}

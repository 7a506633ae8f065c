package observability

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions controls where and how the service logs.
type LoggerOptions struct {
	Dev bool
	// LogFile, when set, receives a rotated copy of every entry.
	LogFile string
	// UTCOffset shifts timestamps to a fixed zone, in hours.
	UTCOffset int
}

// InitLogger creates a production or development logger
func InitLogger(opts LoggerOptions) (*zap.Logger, error) {
	var config zapcore.EncoderConfig
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	if opts.Dev {
		config = zap.NewDevelopmentEncoderConfig()
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		level.SetLevel(zapcore.DebugLevel)
	} else {
		config = zap.NewProductionEncoderConfig()
	}
	config.EncodeTime = offsetTimeEncoder(opts.UTCOffset)

	var encoder zapcore.Encoder
	if opts.Dev {
		encoder = zapcore.NewConsoleEncoder(config)
	} else {
		encoder = zapcore.NewJSONEncoder(config)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if opts.LogFile != "" {
		fileConfig := zap.NewProductionEncoderConfig()
		fileConfig.EncodeTime = offsetTimeEncoder(opts.UTCOffset)
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), zapcore.AddSync(rotator), level))
	}

	logger := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)

	return logger, nil
}

func offsetTimeEncoder(hours int) zapcore.TimeEncoder {
	zone := time.FixedZone("", hours*60*60)
	return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(zone).Format("2006-01-02T15:04:05"))
	}
}

// SugaredLogger wraps zap.Logger for easier Printf-style logging
type SugaredLogger struct {
	*zap.SugaredLogger
}

// NewSugaredLogger creates a sugared logger from zap.Logger
func NewSugaredLogger(logger *zap.Logger) *SugaredLogger {
	return &SugaredLogger{logger.Sugar()}
}

package logger

import (
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

var std = newZap(uuid.NewString(), 2)

// New returns a console logger tagged with runID.
func New(runID string) Logger {
	return newZap(runID, 1)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func newZap(runID string, callerSkip int) *zapLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)
	base := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(callerSkip),
		zap.Fields(zap.String("run_id", runID)),
	)
	return &zapLogger{sugar: base.Sugar()}
}

func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infof(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnf(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorf(msg, args...) }

func Info(msg string, args ...any) {
	std.sugar.Infof(msg, args...)
}

func Warn(msg string, args ...any) {
	std.sugar.Warnf(msg, args...)
}

func Error(msg string, args ...any) {
	std.sugar.Errorf(msg, args...)
}

func Fatal(msg string, args ...any) {
	std.sugar.Fatalf(msg, args...) // logs + os.Exit(1)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = std.sugar.Sync()
}

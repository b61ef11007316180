package protocol

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger 把 whatsmeow 的日志接到 zap
type zapLogger struct {
	lg *zap.Logger
}

func newZapLogger(lg *zap.Logger) waLog.Logger {
	return &zapLogger{lg: lg}
}

func (l *zapLogger) Debugf(msg string, args ...interface{}) {
	if ce := l.lg.Check(zap.DebugLevel, ""); ce != nil {
		ce.Message = fmt.Sprintf(msg, args...)
		ce.Write()
	}
}

func (l *zapLogger) Infof(msg string, args ...interface{}) {
	l.lg.Info(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Warnf(msg string, args ...interface{}) {
	l.lg.Warn(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Errorf(msg string, args ...interface{}) {
	l.lg.Error(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{lg: l.lg.Named(module)}
}

package log

import (
	"io"

	"github.com/btcsuite/btclog"
)

const (
	TraceLog = iota
	DebugLog
	InfoLog
	WarnLog
	ErrorLog
)

var logger btclog.Logger = btclog.Disabled

// InitLog sets up the package logger. Before it is called all output is
// discarded.
func InitLog(level int, w io.Writer) {
	backend := btclog.NewBackend(w)
	l := backend.Logger("GUARD")
	switch level {
	case TraceLog:
		l.SetLevel(btclog.LevelTrace)
	case DebugLog:
		l.SetLevel(btclog.LevelDebug)
	case InfoLog:
		l.SetLevel(btclog.LevelInfo)
	case WarnLog:
		l.SetLevel(btclog.LevelWarn)
	case ErrorLog:
		l.SetLevel(btclog.LevelError)
	default:
		l.SetLevel(btclog.LevelInfo)
	}
	logger = l
}

func Trace(v ...interface{}) {
	logger.Trace(v...)
}

func Tracef(format string, v ...interface{}) {
	logger.Tracef(format, v...)
}

func Debug(v ...interface{}) {
	logger.Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	logger.Debugf(format, v...)
}

func Info(v ...interface{}) {
	logger.Info(v...)
}

func Infof(format string, v ...interface{}) {
	logger.Infof(format, v...)
}

func Warn(v ...interface{}) {
	logger.Warn(v...)
}

func Warnf(format string, v ...interface{}) {
	logger.Warnf(format, v...)
}

func Error(v ...interface{}) {
	logger.Error(v...)
}

func Errorf(format string, v ...interface{}) {
	logger.Errorf(format, v...)
}

func Fatal(v ...interface{}) {
	logger.Critical(v...)
}

func Fatalf(format string, v ...interface{}) {
	logger.Criticalf(format, v...)
}

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Configure applies a level name and an output format ("text" or "json").
func Configure(level, format string) error {
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		Log.SetLevel(parsed)
	}

	switch strings.ToLower(format) {
	case "", "text":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

func Info(v ...interface{}) {
	Log.Info(v...)
}

func Infof(format string, v ...interface{}) {
	Log.Infof(format, v...)
}

func Warnf(format string, v ...interface{}) {
	Log.Warnf(format, v...)
}

func Error(v ...interface{}) {
	Log.Error(v...)
}

func Errorf(format string, v ...interface{}) {
	Log.Errorf(format, v...)
}

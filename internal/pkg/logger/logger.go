package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]interface{}

type Logger struct {
	entry *logrus.Entry
}

type Options struct {
	Level    string
	FilePath string
	MaxSize  int
	MaxAge   int
}

func New(opts Options) *Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename: opts.FilePath,
			MaxSize:  opts.MaxSize,
			MaxAge:   opts.MaxAge,
			Compress: true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return &Logger{entry: logrus.NewEntry(log)}
}

func NewTestLogger() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(log)}
}

func (logger *Logger) WithFields(fields Fields) *Logger {
	return &Logger{entry: logger.entry.WithFields(logrus.Fields(fields))}
}

func (logger *Logger) WithError(err error) *Logger {
	return &Logger{entry: logger.entry.WithError(err)}
}

func (logger *Logger) Debug(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(pairsToFields(keysAndValues)).Debug(msg)
}

func (logger *Logger) Info(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(pairsToFields(keysAndValues)).Info(msg)
}

func (logger *Logger) Warn(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(pairsToFields(keysAndValues)).Warn(msg)
}

func (logger *Logger) Error(msg string, keysAndValues ...interface{}) {
	logger.entry.WithFields(pairsToFields(keysAndValues)).Error(msg)
}

// LogSession records one lifecycle event of a research session.
func (logger *Logger) LogSession(sessionID, model, event string, duration time.Duration, err error) {
	entry := logger.entry.WithFields(logrus.Fields{
		"session_id": sessionID,
		"model":      model,
		"event":      event,
	})

	if duration > 0 {
		entry = entry.WithField("duration_ms", duration.Milliseconds())
	}

	if err != nil {
		entry.WithError(err).Error("session event")
		return
	}
	entry.Info("session event")
}

// LogService records one operation against an internal or external service.
func (logger *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := logger.entry.WithFields(logrus.Fields{
		"service":   service,
		"operation": operation,
	})

	if duration > 0 {
		entry = entry.WithField("duration_ms", duration.Milliseconds())
	}

	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	if err != nil {
		entry.WithError(err).Error("service operation failed")
		return
	}
	entry.Info("service operation")
}

func pairsToFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

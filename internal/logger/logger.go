package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerMu   sync.RWMutex
	baseLogger *logrus.Logger
)

func init() {
	baseLogger = newLogger(os.Stdout, logrus.InfoLevel)
}

func newLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	})
	return l
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	level := logrus.InfoLevel
	if baseLogger != nil {
		level = baseLogger.GetLevel()
	}
	baseLogger = newLogger(w, level)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	activeLogger().SetLevel(lvl)
}

func activeLogger() *logrus.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout, logrus.InfoLevel)
	}
	return baseLogger
}

// WithFields returns an entry carrying component-scoped fields.
func WithFields(fields map[string]any) *logrus.Entry {
	return activeLogger().WithFields(logrus.Fields(fields))
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	lines := strings.Split(block, "\n")
	for _, line := range lines {
		Infof("%s", line)
	}
}

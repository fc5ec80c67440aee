package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// New builds the process logger. format "json" selects the JSON formatter,
// anything else the text formatter. Unknown levels fall back to info.
func New(level, format string) *logrus.Logger {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(level, format string, w io.Writer) *logrus.Logger {
	logger := logrus.New()

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	logger.SetLevel(ParseLevel(level))
	logger.SetOutput(w)

	return logger
}

// ParseLevel maps a level name to a logrus level, case-insensitively.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

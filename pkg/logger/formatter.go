package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

func newFormatter(config *Config) logrus.Formatter {
	timestampFormat := config.TimeFormat
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	if config.Format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
				logrus.FieldKeyFile: "caller",
			},
		}
	}

	return &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
		DisableColors:   true,
	}
}

// serviceHook stamps every entry with the service name and version.
type serviceHook struct {
	appName string
	version string
}

func (h *serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	if h.appName != "" {
		entry.Data["app"] = h.appName
	}
	if h.version != "" {
		entry.Data["version"] = h.version
	}
	return nil
}

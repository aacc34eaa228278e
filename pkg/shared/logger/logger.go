package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the application logger. An explicit level wins over the
// AUTOPATCH_LOG_LEVEL environment variable.
func NewLogger(name, level string) hclog.Logger {
	if level == "" {
		level = os.Getenv("AUTOPATCH_LOG_LEVEL")
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:        name,
		DisableTime: true,
		Output:      os.Stdout,
		Level:       getLogLevel(strings.ToUpper(level)),
	})
}

// GetLoggerOutput returns a writer for subprocess/progress output that only
// produces bytes when the logger is at debug or below.
func GetLoggerOutput(logger hclog.Logger) io.Writer {
	if logger.IsDebug() {
		return logger.StandardWriter(&hclog.StandardLoggerOptions{ForceLevel: hclog.Debug})
	}
	return io.Discard
}

func getLogLevel(levelStr string) hclog.Level {
	switch levelStr {
	case "TRACE":
		return hclog.Trace
	case "DEBUG":
		return hclog.Debug
	case "INFO":
		return hclog.Info
	case "WARN":
		return hclog.Warn
	case "ERROR":
		return hclog.Error
	default:
		return hclog.Info
	}
}

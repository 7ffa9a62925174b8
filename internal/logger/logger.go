package logger

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a configured logrus.Logger. JSON output keeps logs structured;
// the level follows the environment unless LOG_LEVEL overrides it.
func New(env string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(level(env))
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	return log
}

func level(env string) logrus.Level {
	if override := os.Getenv("LOG_LEVEL"); override != "" {
		if lvl, err := logrus.ParseLevel(override); err == nil {
			return lvl
		}
	}
	switch strings.ToLower(env) {
	case "local", "dev":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

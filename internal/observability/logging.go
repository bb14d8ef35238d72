// internal/observability/logging.go
package observability

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/config"
)

// ConfigureLogging sets the process-wide logrus formatter and level.
// Production logs are JSON so the collector can index the fields.
func ConfigureLogging(cfg *config.Config) {
	logrus.SetOutput(os.Stdout)
	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

package logging

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"
)

type logrusWriter struct{}

func (logrusWriter) Printf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// GormLogger routes gorm's warnings and slow queries through logrus.
func GormLogger() logger.Interface {
	return logger.New(logrusWriter{}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

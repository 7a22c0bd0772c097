package appinit

import (
	errors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SetupLogger configures the standard logrus logger with full timestamps and the specified level.
func SetupLogger(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "不正确的日志级别")
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(lvl)

	return nil
}

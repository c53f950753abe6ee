// Package logging owns the process logger.
package logging

import (
	"github.com/sirupsen/logrus"
)

var appLogger = logrus.New()

// For returns a logger tagged with the given component name.
func For(comp string) logrus.FieldLogger {
	return appLogger.WithField("comp", comp)
}

// SetLevel parses and applies a log level. An unparseable level leaves the
// current level in place and is reported through the returned error.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	appLogger.SetLevel(lvl)
	return nil
}

// Logger returns the underlying logger.
func Logger() *logrus.Logger {
	return appLogger
}

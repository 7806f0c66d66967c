// Package logx sets up logrus the same way for every daemon.
package logx

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// DefaultSetup sets the level of the standard logger and switches it to JSON
// output on stderr
func DefaultSetup(level string) error {
	return Setup(log.StandardLogger(), level)
}

// Setup configures logger like DefaultSetup
func Setup(logger *log.Logger, level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	return nil
}

// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects the level, format and destination.
type Config struct {
	Level  string
	Format string
	// File is the log file path. "-" logs to stderr. Empty uses the default
	// state file.
	File string
}

// DefaultFile returns ~/.local/state/<app>/<app>.log.
func DefaultFile(app string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", app, app+".log"), nil
}

// Configure applies c to the standard logrus logger and returns a cleanup
// func that closes the log file. Failing to open the file falls back to
// stderr.
func Configure(app string, c Config) (func(), error) {
	level := logrus.InfoLevel
	if strings.TrimSpace(c.Level) != "" {
		parsed, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return func() {}, fmt.Errorf("log-level: %w", err)
		}
		level = parsed
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	default:
		return func() {}, fmt.Errorf("log-format: unknown format %q", c.Format)
	}

	if c.File == "-" {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}

	path := c.File
	if path == "" {
		p, err := DefaultFile(app)
		if err != nil {
			logrus.SetOutput(os.Stderr)
			return func() {}, nil
		}
		path = p
	}
	f, err := openLogFile(path)
	if err != nil {
		logrus.SetOutput(os.Stderr)
		logrus.WithError(err).Warn("log file unavailable, logging to stderr")
		return func() {}, nil
	}
	logrus.SetOutput(f)
	return func() {
		logrus.SetOutput(io.Discard)
		_ = f.Close()
	}, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

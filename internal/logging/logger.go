package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Standard field names shared by every component
const (
	FieldComponent  = "component"
	FieldJobID      = "job_id"
	FieldRunID      = "run_id"
	FieldFunderID   = "funder_id"
	FieldProposalID = "proposal_id"
	FieldNaturalKey = "natural_key"
	FieldConfidence = "confidence"
	FieldScore      = "score"
)

// NewLogger creates the process logger. Development gets readable text with
// full timestamps; every other environment gets JSON.
//
// Parameters:
//   - logLevel: debug, info, warn or error; anything else means info.
//   - environment: The deployment environment name.
//
// Returns:
//   - A configured logger writing to stdout.
func NewLogger(logLevel string, environment string) *logrus.Logger {
	return NewLoggerWithOutput(logLevel, environment, os.Stdout)
}

// NewLoggerWithOutput is NewLogger with an explicit destination
func NewLoggerWithOutput(logLevel string, environment string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(ParseLogrusLevel(logLevel))

	if strings.EqualFold(environment, "development") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// WithComponent tags every entry with the emitting component
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField(FieldComponent, component)
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

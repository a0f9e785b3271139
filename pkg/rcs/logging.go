package rcs

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/logging"
)

// ParseLogLevel maps a level name to a logging.LogLevel. An empty name is info.
func ParseLogLevel(name string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("%w %q", ErrInvalidLogLevel, name)
	}
}

// NewLoggerFactory builds a factory writing to w at the configured levels.
func NewLoggerFactory(c *Config, w io.Writer) (*logging.DefaultLoggerFactory, error) {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	if w != nil {
		f.Writer = w
	}
	for scope, name := range c.LogScopes {
		l, err := ParseLogLevel(name)
		if err != nil {
			return nil, err
		}
		f.ScopeLevels[scope] = l
	}
	return f, nil
}

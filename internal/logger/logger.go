// Package logger builds the hclog logger shared by every command.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/xab-mack/anchorscan/internal/config"
)

// EnvLevel overrides the configured log level when set.
const EnvLevel = "ANCHORSCAN_LOG_LEVEL"

// New creates a logger writing to stderr so reports on stdout stay clean.
func New(cfg config.LogConfig, name string) hclog.Logger {
	return NewWithOutput(cfg, name, os.Stderr)
}

func NewWithOutput(cfg config.LogConfig, name string, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:        name,
		Level:       determineLevel(cfg),
		JSONFormat:  cfg.JSON,
		DisableTime: !cfg.JSON,
		Output:      out,
		Color:       hclog.ColorOff,
	})
}

// determineLevel prefers the environment, then the config, then warn.
func determineLevel(cfg config.LogConfig) hclog.Level {
	if env := os.Getenv(EnvLevel); env != "" {
		if lvl := parseLevel(env); lvl != hclog.NoLevel {
			return lvl
		}
	}
	if lvl := parseLevel(cfg.Level); lvl != hclog.NoLevel {
		return lvl
	}
	return hclog.Warn
}

func parseLevel(s string) hclog.Level {
	return hclog.LevelFromString(strings.TrimSpace(s))
}

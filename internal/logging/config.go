package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding and destination of a Logger. The env
// tags let config.Config carry it as its Logging section.
type Config struct {
	// Level is DEBUG, INFO, WARN, ERROR or FATAL, in any case.
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	// Format is json or console.
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	// Output is stdout, stderr or a file path.
	Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// NewLogger creates a logger from cfg; nil means DefaultConfig. Files are
// opened for appending and stay open for the life of the process.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}

	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, err
	}
	return newLogger(parseLevel(cfg.Level), strings.ToLower(cfg.Format), sink), nil
}

// parseLevel maps a level name onto LogLevel. Unknown names mean INFO.
func parseLevel(level string) LogLevel {
	if strings.EqualFold(level, "warning") {
		return WarnLevel
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return InfoLevel
	}
	switch {
	case l <= zapcore.DebugLevel:
		return DebugLevel
	case l == zapcore.InfoLevel:
		return InfoLevel
	case l == zapcore.WarnLevel:
		return WarnLevel
	case l < zapcore.FatalLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

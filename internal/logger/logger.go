package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the service logger is built.
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
}

// Logger wraps zerolog.Logger so call sites keep the familiar fluent API.
type Logger struct {
	zerolog.Logger
}

// New builds the service-wide logger. Development environments get a console
// writer; everything else emits JSON for the log pipeline.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Environment == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log = zerolog.New(out)
	} else {
		log = zerolog.New(os.Stderr)
	}

	log = log.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: log}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the application logger type.
type Logger = zerolog.Logger

// NewLogger builds the process-wide logger. Development gets a human
// console writer, everything else stays structured JSON.
func NewLogger(appEnv, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		if appEnv == "development" {
			lvl = zerolog.DebugLevel
		} else {
			lvl = zerolog.InfoLevel
		}
	}

	if appEnv == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

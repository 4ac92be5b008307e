package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bizchat/config"
)

func init() {
	// Load .env file before anything else
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file found")
	}
}

// newLogger builds the root logger from the log section of the config.
// An unknown level falls back to info.
func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if err != nil {
		logger.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
	}
	return logger
}

// component returns a child logger tagged with the component name
func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func configPath() string {
	if path := os.Getenv("BIZCHAT_CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath
}

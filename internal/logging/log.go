// Package logging configures the relay's structured logger. It follows the
// pack's pkg/log pattern (a package-level zerolog.Logger, Init from a small
// Config, a For child-logger helper) rather than threading a logger
// interface through every constructor.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/outboxrelay/relay/internal/config"
)

// Logger is an alias so call sites can depend on this package instead of
// importing zerolog directly, without losing any of zerolog's chained API.
type Logger = zerolog.Logger

// Root is the process-wide logger, set by Init. Components should derive
// their own logger from it via With() rather than logging through Root
// directly, so every line carries a "component" field.
var Root zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures Root from cfg. Call once at startup before any component
// logger is derived.
func Init(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSON {
		Root = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	Root = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// For returns a child logger tagged with the given component name, e.g.
// logging.For("outbox-store").
func For(component string) zerolog.Logger {
	return Root.With().Str("component", component).Logger()
}

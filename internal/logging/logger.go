// Package logging configures the zerolog logger every moodline component
// writes through. The root command calls Init once the configuration is
// loaded; before that, entries go to stderr as JSON at info level.
//
//	log := logging.Component("emotion-worker")
//	log.Info().Int("pid", pid).Msg("emotion worker spawned")
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, format and destination.
type Config struct {
	Level  string // trace, debug, info, warn, error or disabled
	Format string // json or console
	Caller bool
	Output io.Writer // os.Stderr when nil
}

var root atomic.Pointer[zerolog.Logger]

func init() {
	Init(Config{})
}

// Init swaps in a logger built from cfg. Loggers handed out earlier by
// Component keep their old settings.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	l := ctx.Logger()
	root.Store(&l)
}

// ParseLevel accepts zerolog level names plus "warning" and "off". Anything
// else means info.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "warning":
		name = "warn"
	case "off":
		name = "disabled"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns a copy of the current root logger.
func Logger() zerolog.Logger {
	return *root.Load()
}

// Component tags a child of the root logger with its owner.
func Component(name string) zerolog.Logger {
	return root.Load().With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return root.Load().Debug() }
func Warn() *zerolog.Event  { return root.Load().Warn() }
func Error() *zerolog.Event { return root.Load().Error() }

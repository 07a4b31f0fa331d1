package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogHandler lets slog-only libraries such as sutureslog write into the
// zerolog stream. Attributes from WithAttrs are baked into a child logger
// once; groups become dotted key prefixes.
type slogHandler struct {
	zl     zerolog.Logger
	prefix string
}

// NewSlogLogger wraps zl for callers that need a *slog.Logger.
func NewSlogLogger(zl zerolog.Logger) *slog.Logger {
	return slog.New(&slogHandler{zl: zl})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	lvl := zerologLevel(level)
	return lvl >= h.zl.GetLevel() && lvl >= zerolog.GlobalLevel()
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	var kv []any
	r.Attrs(func(a slog.Attr) bool {
		kv = flatten(kv, h.prefix, a)
		return true
	})
	h.zl.WithLevel(zerologLevel(r.Level)).Fields(kv).Msg(r.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var kv []any
	for _, a := range attrs {
		kv = flatten(kv, h.prefix, a)
	}
	return &slogHandler{zl: h.zl.With().Fields(kv).Logger(), prefix: h.prefix}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{zl: h.zl, prefix: h.prefix + name + "."}
}

// flatten appends a as key/value pairs, expanding groups into dotted keys.
func flatten(kv []any, prefix string, a slog.Attr) []any {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, member := range v.Group() {
			kv = flatten(kv, prefix, member)
		}
		return kv
	}
	if a.Key == "" {
		return kv
	}
	return append(kv, prefix+a.Key, v.Any())
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

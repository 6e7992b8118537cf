// Package logging builds the slog loggers used across paperdex.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"

	"github.com/dshills/paperdex/pkg/types"
)

// Log formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// SecretTag marks struct fields that must never be logged
const SecretTag = "secret"

// Options configure New
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
}

// New returns a logger writing to w. Struct fields tagged masq:"secret" are
// redacted from every record.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: masq.New(masq.WithTag(SecretTag)),
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		handler = slog.NewTextHandler(w, handlerOpts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, goerr.Wrap(types.ErrConfiguration, "unknown log format", goerr.V("format", opts.Format))
	}
	return slog.New(handler), nil
}

// ParseLevel converts a level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, goerr.Wrap(types.ErrConfiguration, "unknown log level", goerr.V("level", s))
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Package logger builds the zerolog logger used across the service and
// carries request-scoped fields through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Component string
}

type ctxKey string

const (
	ctxReqIDKey     ctxKey = "request_id"
	ctxCacheOutcome ctxKey = "cache"
	ctxComponent    ctxKey = "component"
	ctxEntryType    ctxKey = "entry_type"
)

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return context.WithValue(ctx, ctxReqIDKey, reqID)
}

// WithOutcome tags the context with the cache outcome (hit or miss).
func WithOutcome(ctx context.Context, outcome string) context.Context {
	if outcome == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxCacheOutcome, outcome)
}

func WithEntryType(ctx context.Context, typ string) context.Context {
	if typ == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxEntryType, typ)
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxComponent, component)
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ParseLevel maps LOG_LEVEL values onto zerolog levels. Unknown or empty
// values mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.DurationFieldUnit = time.Millisecond
}

// Build returns a JSON logger writing to out (stdout when nil). The level is
// set on the returned logger only, so several loggers can coexist.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(ParseLevel(cfg.Level))
	if cfg.SampleN > 1 {
		n := uint32(math.MaxUint32)
		if uint64(cfg.SampleN) < math.MaxUint32 {
			n = uint32(cfg.SampleN)
		}
		zl = zl.Sample(&zerolog.BasicSampler{N: n})
	}

	zc := zl.With().Timestamp()
	if cfg.Component != "" {
		zc = zc.Str("component", cfg.Component)
	}
	return zc.Logger()
}

// contextFields are copied from ctx onto every line, in this order.
var contextFields = []struct {
	key   ctxKey
	field string
}{
	{ctxReqIDKey, "request_id"},
	{ctxComponent, "component"},
	{ctxEntryType, "entry_type"},
	{ctxCacheOutcome, "cache"},
}

// FromContext returns a child of parent carrying the request fields found
// in ctx. A nil parent discards output.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.Nop()
	if parent != nil {
		base = *parent
	}
	zc := base.With()
	for _, f := range contextFields {
		if s, ok := ctx.Value(f.key).(string); ok && s != "" {
			zc = zc.Str(f.field, s)
		}
	}
	l := zc.Logger()
	return &l
}

package logging

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	payloadIDKey ctxKey = iota
	loggerKey
)

// Node, Share and Hop are the identifiers attached to relay and reputation
// log lines.
func Node(id string) Field  { return String("node", id) }
func Share(index int) Field { return Int("share", index) }
func Hop(round int) Field   { return Int("hop", round) }

// EnsurePayloadID returns ctx with a payload ID, minting a uuid when ctx has
// none, and the ID itself.
func EnsurePayloadID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := PayloadIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return ContextWithPayloadID(ctx, id), id
}

func ContextWithPayloadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, payloadIDKey, id)
}

func PayloadIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(payloadIDKey).(string)
	return id
}

// WithPayloadLogger tags base with the payload ID of ctx (minting one if
// needed) and stores the result on the returned context.
func WithPayloadLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx, id := EnsurePayloadID(ctx)
	l := base.With(String("payload_id", id))
	return ContextWithLogger(ctx, l), l
}

// WithShareLogger narrows the logger carried by ctx, or fallback when ctx
// has none, to one share of the payload.
func WithShareLogger(ctx context.Context, fallback Logger, index int) (context.Context, Logger) {
	l := FromContext(ctx, fallback).With(Share(index))
	return ContextWithLogger(ctx, l), l
}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromContext returns the logger stored on ctx, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(loggerKey).(Logger)
	return l
}

// FromContext is LoggerFromContext with a fallback; a nil fallback yields
// Noop.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l := LoggerFromContext(ctx); l != nil {
		return l
	}
	if fallback == nil {
		return Noop()
	}
	return fallback
}

package logging

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxIDLen caps correlation ids copied into every log entry.
const maxIDLen = 128

type (
	sessionCtxKey struct{}
	episodeCtxKey struct{}
	requestCtxKey struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := EpisodeIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("episode.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// sanitizeID drops invalid UTF-8 and caps length. Session ids come from
// hook payloads, so they are cleaned rather than rejected.
func sanitizeID(id string) string {
	if !utf8.ValidString(id) {
		id = strings.ToValidUTF8(id, "")
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
		for !utf8.ValidString(id) {
			id = id[:len(id)-1]
		}
	}
	return id
}

func withID(ctx context.Context, key any, id string) context.Context {
	id = sanitizeID(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithSessionID tags ctx with a learning session id. Empty ids are ignored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	return idFrom(ctx, sessionCtxKey{})
}

// WithEpisodeID tags ctx with an episode id. Empty ids are ignored.
func WithEpisodeID(ctx context.Context, id string) context.Context {
	return withID(ctx, episodeCtxKey{}, id)
}

// EpisodeIDFromContext returns the episode id, or "".
func EpisodeIDFromContext(ctx context.Context) string {
	return idFrom(ctx, episodeCtxKey{})
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	return idFrom(ctx, requestCtxKey{})
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the stored logger or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}

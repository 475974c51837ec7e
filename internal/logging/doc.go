// Package logging wraps zap for kazuba-rlm.
//
// A Logger carries a custom Trace level, a redacting encoder, level-aware
// sampling and an optional OpenTelemetry bridge. Context methods prepend
// trace, session, episode and request correlation fields:
//
//	ctx = logging.WithSessionID(ctx, "sess-42")
//	ctx = logging.WithEpisodeID(ctx, "ep-1")
//	logger.Info(ctx, "step recorded", zap.Float64("td_error", td))
//
// Learning packages take a plain *zap.Logger; hand them Underlying() or
// Component(name).
//
// Hook mode writes the JSON protocol on stdout, so the default stream is
// stderr.
package logging

package telemetry

import (
	"context"
	"log/slog"

	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/shared"
)

// LogTypeKey lets a caller override the dashboard log type, e.g. "success".
const LogTypeKey = "log_type"

// BroadcastHandler forwards every record to the wrapped handler and
// republishes Info-and-above records as bus.LogLine events.
type BroadcastHandler struct {
	inner slog.Handler
	bus   *bus.Bus
}

func NewBroadcastHandler(inner slog.Handler, b *bus.Bus) *BroadcastHandler {
	return &BroadcastHandler{inner: inner, bus: b}
}

func (h *BroadcastHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.inner.Enabled(ctx, level)
}

func (h *BroadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.inner.Enabled(ctx, r.Level) {
		err = h.inner.Handle(ctx, r)
	}
	if r.Level < slog.LevelInfo {
		return err
	}
	logType := logTypeFor(r.Level)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == LogTypeKey {
			logType = a.Value.String()
			return false
		}
		return true
	})
	h.bus.Publish(bus.TopicLog, bus.LogLine{Type: logType, Message: shared.Redact(r.Message)})
	return err
}

func (h *BroadcastHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BroadcastHandler{inner: h.inner.WithAttrs(attrs), bus: h.bus}
}

func (h *BroadcastHandler) WithGroup(name string) slog.Handler {
	return &BroadcastHandler{inner: h.inner.WithGroup(name), bus: h.bus}
}

func logTypeFor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	default:
		return "info"
	}
}

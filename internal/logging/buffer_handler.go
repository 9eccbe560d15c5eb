package logging

import (
	"context"
	"log/slog"
)

// BufferHandler is a slog.Handler that mirrors log records into the
// package ring buffer so recent history can be inspected at runtime.
type BufferHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewBufferHandler creates a handler writing to the global ring buffer.
// The buffer is resolved lazily so handlers created before Initialize
// still work once the buffer exists.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer := GetBuffer()
	if buffer == nil {
		return nil
	}

	entry := Entry{
		Timestamp: r.Time,
		Level:     levelToString(r.Level),
		Message:   r.Message,
	}

	attrs := make(map[string]any)
	for _, a := range h.attrs {
		flattenAttr(attrs, h.groups, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flattenAttr(attrs, h.groups, a)
		return true
	})

	if module, ok := attrs["module"].(string); ok {
		entry.Module = module
		delete(attrs, "module")
	}
	if len(attrs) > 0 {
		entry.Attributes = attrs
	}

	buffer.Write(entry)
	return nil
}

// flattenAttr records an attribute under its group-qualified key.
func flattenAttr(attrs map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			flattenAttr(attrs, append(groups, a.Key), ga)
		}
		return
	}
	attrs[key] = a.Value.Any()
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

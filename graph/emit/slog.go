package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured logger. Error events are
// logged at error level, node_start and node_end at debug, everything else
// at info.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates a SlogEmitter. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit implements Emitter.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelInfo
	switch event.Msg {
	case MsgError:
		level = slog.LevelError
	case MsgNodeStart, MsgNodeEnd:
		level = slog.LevelDebug
	}

	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.Int("step", event.Step),
		slog.Int("iteration", event.Iteration),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID))
	}
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}

package engine

import (
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultHistorySize bounds the in-memory debug history.
const defaultHistorySize = 200

// DebugEntry is one captured log record.
type DebugEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// DebugHistory keeps the most recent warn and error log entries in a
// ring so the wire surface can show them without tailing log files.
type DebugHistory struct {
	mu   stdsync.Mutex
	buf  []DebugEntry
	next int
	full bool
}

func NewDebugHistory(capacity int) *DebugHistory {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &DebugHistory{buf: make([]DebugEntry, capacity)}
}

func (h *DebugHistory) append(e DebugEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = e
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// Entries returns the captured records, oldest first.
func (h *DebugHistory) Entries() []DebugEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]DebugEntry, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]DebugEntry, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}

// historyCore is a zap core that mirrors warn-and-above entries into a
// DebugHistory alongside whatever core the logger already has.
type historyCore struct {
	hist   *DebugHistory
	fields []zapcore.Field
}

func (c *historyCore) Enabled(l zapcore.Level) bool { return l >= zapcore.WarnLevel }

func (c *historyCore) With(fs []zapcore.Field) zapcore.Core {
	clone := &historyCore{hist: c.hist}
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fs...)
	return clone
}

func (c *historyCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *historyCore) Write(ent zapcore.Entry, fs []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fs {
		f.AddTo(enc)
	}
	c.hist.append(DebugEntry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Message: ent.Message,
		Fields:  enc.Fields,
	})
	return nil
}

func (c *historyCore) Sync() error { return nil }

// withHistory tees a logger's core into the debug history.
func withHistory(logger *zap.Logger, hist *DebugHistory) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, &historyCore{hist: hist})
	}))
}

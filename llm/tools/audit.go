package tools

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEntry is one executed tool call.
type AuditEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// AuditLogger 记录每一次工具调用。
type AuditLogger interface {
	Log(ctx context.Context, entry *AuditEntry) error
}

// ZapAuditLogger 将审计记录写入 zap。参数只记录长度，避免凭证进入日志。
type ZapAuditLogger struct {
	logger *zap.Logger
}

// NewZapAuditLogger creates an audit logger on top of logger.
func NewZapAuditLogger(logger *zap.Logger) *ZapAuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAuditLogger{logger: logger.With(zap.String("component", "tool_audit"))}
}

func (l *ZapAuditLogger) Log(_ context.Context, entry *AuditEntry) error {
	fields := []zap.Field{
		zap.String("tool", entry.ToolName),
		zap.String("tool_call_id", entry.ToolCallID),
		zap.Int("args_bytes", len(entry.Arguments)),
		zap.Duration("duration", entry.Duration),
	}
	if entry.Error != "" {
		fields = append(fields, zap.String("error", entry.Error), zap.String("error_code", entry.ErrorCode))
		l.logger.Warn("tool call failed", fields...)
		return nil
	}
	l.logger.Info("tool call", fields...)
	return nil
}

// MemoryAuditLogger keeps entries in memory.
type MemoryAuditLogger struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

func (l *MemoryAuditLogger) Log(_ context.Context, entry *AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return nil
}

// Entries returns a copy of the recorded entries in call order.
func (l *MemoryAuditLogger) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

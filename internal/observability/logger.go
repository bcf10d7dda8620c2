package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/locationtracker/agent/internal/models"
	"go.opentelemetry.io/otel/trace"
)

// Level is a log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps LOG_LEVEL values to a level, defaulting to info
func ParseLevel(s string) Level {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i)
		}
	}
	if strings.EqualFold(s, "warning") {
		return LevelWarn
	}
	return LevelInfo
}

// field is one key=value pair; order is kept so lines read the same every time
type field struct {
	key   string
	value interface{}
}

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// Logger writes leveled lines of the form
//
//	2024-05-01T10:00:00.000Z INFO [sync] Sync complete direction=pull trace_id=...
type Logger struct {
	out       *sink
	min       Level
	component string
	fields    []field
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// NewLogger creates a logger writing to stdout
func NewLogger(component string, min Level) *Logger {
	return &Logger{out: &sink{w: os.Stdout}, min: min, component: component}
}

// GetLogger returns the process logger, configured from LOG_LEVEL
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		defaultLogger = NewLogger("agent", ParseLevel(os.Getenv("LOG_LEVEL")))
	})
	return defaultLogger
}

// SetOutput redirects this logger and all loggers derived from it
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w = w
}

func (l *Logger) derive(component string, extra ...field) *Logger {
	fields := make([]field, 0, len(l.fields)+len(extra))
	for _, f := range l.fields {
		replaced := false
		for _, e := range extra {
			if e.key == f.key {
				replaced = true
				break
			}
		}
		if !replaced {
			fields = append(fields, f)
		}
	}
	fields = append(fields, extra...)
	return &Logger{out: l.out, min: l.min, component: component, fields: fields}
}

// Component returns a logger tagged with the subsystem name
func (l *Logger) Component(name string) *Logger {
	return l.derive(name)
}

// WithField returns a logger carrying key=value; an existing key is replaced
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.component, field{key, value})
}

// ForDirection tags lines with the replication direction
func (l *Logger) ForDirection(d models.Direction) *Logger {
	return l.WithField("direction", d.String())
}

// ForRecord tags lines with the record a message is about
func (l *Logger) ForRecord(kind models.RecordKind, id string) *Logger {
	return l.derive(l.component, field{"kind", string(kind)}, field{"record_id", id})
}

// WithContext adds the trace and span ids of the active span
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.derive(l.component,
		field{"trace_id", sc.TraceID().String()},
		field{"span_id", sc.SpanID().String()},
	)
}

func (l *Logger) Debug(msg string) { l.write(LevelDebug, msg) }
func (l *Logger) Info(msg string)  { l.write(LevelInfo, msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.writef(LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.writef(LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.writef(LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.writef(LevelError, format, args...)
}

func (l *Logger) writef(level Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, msg string) {
	if level < l.min {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteByte(' ')
	b.WriteString(level.String())
	if l.component != "" {
		b.WriteString(" [")
		b.WriteString(l.component)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range l.fields {
		fmt.Fprintf(&b, " %s=%v", f.key, f.value)
	}
	b.WriteByte('\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	io.WriteString(l.out.w, b.String())
}

// Package-level helpers log through the process logger

func Debugf(format string, args ...interface{}) { GetLogger().writef(LevelDebug, format, args...) }
func Info(msg string)                           { GetLogger().write(LevelInfo, msg) }
func Infof(format string, args ...interface{})  { GetLogger().writef(LevelInfo, format, args...) }
func Warnf(format string, args ...interface{})  { GetLogger().writef(LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { GetLogger().writef(LevelError, format, args...) }

// Component returns the process logger tagged with a subsystem name
func Component(name string) *Logger {
	return GetLogger().Component(name)
}

// WithContext returns the process logger with trace ids from ctx
func WithContext(ctx context.Context) *Logger {
	return GetLogger().WithContext(ctx)
}

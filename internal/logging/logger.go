package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{Debug: "DEBUG", Info: "INFO", Warn: "WARN", Error: "ERROR"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a Level. An empty name is Info.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return Info, nil
	case "WARNING":
		return Warn, nil
	}
	for l, n := range levelNames {
		if n == name {
			return Level(l), nil
		}
	}
	return Info, fmt.Errorf("unsupported log level %q", s)
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	}
	return "unknown"
}

// ParseFormat converts "text" or "json" to a Format. An empty name is Text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return Text, nil
	case "json":
		return JSON, nil
	}
	return Text, fmt.Errorf("unsupported log format %q", s)
}

// Field is one structured key/value pair attached to an entry.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Err wraps an error as the "error" field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// Default returns the process-wide logger, writing text at Info to stderr
// until SetDefault replaces it.
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Info, Text, os.Stderr)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger. nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Discard returns a logger that drops everything.
func Discard() Logger { return New(Error+1, Text, io.Discard) }

const timeLayout = "2006/01/02 15:04:05.000000"

// sink serialises whole lines onto one writer. Loggers derived with With
// share it.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	format Format
	now    func() time.Time
}

type logger struct {
	level  Level
	fields []Field
	sink   *sink
}

// New constructs a Logger with the given level, format, and output writer.
func New(level Level, format Format, out io.Writer) Logger {
	return &logger{
		level: level,
		sink:  &sink{out: out, format: format, now: time.Now},
	}
}

func (l *logger) With(fields ...Field) Logger {
	return &logger{
		level:  l.level,
		fields: append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...),
		sink:   l.sink,
	}
}

func (l *logger) Debug(msg string, fields ...Field) { l.write(Debug, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.write(Info, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.write(Warn, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.write(Error, msg, fields) }

func (l *logger) write(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	now := l.sink.now()

	var line bytes.Buffer
	line.WriteString(now.Format(timeLayout))
	line.WriteByte(' ')
	if l.sink.format == JSON {
		line.Write(encodeJSON(now, level, msg, l.fields, fields))
	} else {
		fmt.Fprintf(&line, "[%s] %s", level, msg)
		appendText(&line, l.fields)
		appendText(&line, fields)
	}
	line.WriteByte('\n')

	l.sink.mu.Lock()
	_, _ = l.sink.out.Write(line.Bytes())
	l.sink.mu.Unlock()
}

func appendText(b *bytes.Buffer, fields []Field) {
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(textValue(f.Value))
	}
}

// textValue quotes values that would otherwise split into several tokens.
func textValue(v any) string {
	var s string
	switch x := v.(type) {
	case error:
		s = x.Error()
	case fmt.Stringer:
		s = x.String()
	case string:
		s = x
	default:
		return fmt.Sprint(v)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func encodeJSON(now time.Time, level Level, msg string, groups ...[]Field) []byte {
	payload := map[string]any{
		"time":  now.Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, fields := range groups {
		for _, f := range fields {
			if f.Key == "" {
				continue
			}
			if err, ok := f.Value.(error); ok {
				payload[f.Key] = err.Error()
				continue
			}
			payload[f.Key] = f.Value
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte(fmt.Sprintf(`{"level":"ERROR","msg":%q}`, "marshal log payload failed: "+err.Error()))
	}
	return data
}

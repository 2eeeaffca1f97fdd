package logging

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angel122382/rpcdevtools/internal/assert"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
	levelCritical
)

// Fields captures structured context for JSON log entries.
// Include CaptureID and RequestID so a line can be tied back to a record in the panel.
type Fields struct {
	CaptureID string `json:"capture_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	RPCType   string `json:"rpc_type,omitempty"`
	Event     string `json:"event,omitempty"`
	Status    string `json:"status,omitempty"`
	PluginID  string `json:"plugin_id,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Path      string `json:"path,omitempty"`
	Duration  int64  `json:"duration_ms,omitempty"`
	Component string `json:"component,omitempty"`
	Error     string `json:"error,omitempty"`
}

type entry struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Fields
}

var (
	levelOnce sync.Once
	minLevel  atomic.Int32
)

func init() {
	minLevel.Store(levelInfo)
	log.SetFlags(0)
}

// Setup sets the minimum level and, when filename is non-empty, tees output
// to a size-rotated log file next to stderr.
func Setup(level, filename string) error {
	if level != "" {
		SetLevel(level)
	}
	if filename == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}))
	return nil
}

// SetOutput redirects all log lines to w.
func SetOutput(w io.Writer) {
	if err := assert.NotNil(w, "log writer"); err != nil {
		return
	}
	log.SetOutput(w)
}

// SetLevel overrides RPCDEVTOOLS_LOG_LEVEL. Unknown names fall back to info.
func SetLevel(level string) {
	levelOnce.Do(func() {})
	minLevel.Store(int32(levelValue(strings.ToLower(level))))
}

// Debug logs a debug-level message with structured fields in JSON format.
// Respects RPCDEVTOOLS_LOG_LEVEL. Returns silently if msg is empty.
func Debug(msg string, fields Fields) {
	logWithLevel("debug", msg, fields)
}

// Info logs an info-level message with structured fields in JSON format.
func Info(msg string, fields Fields) {
	logWithLevel("info", msg, fields)
}

// Warn logs a warning-level message. Use for dropped or malformed traffic
// that the observer degrades around.
func Warn(msg string, fields Fields) {
	logWithLevel("warn", msg, fields)
}

// Error logs an error-level message with structured fields in JSON format.
func Error(msg string, fields Fields) {
	logWithLevel("error", msg, fields)
}

// Critical logs a critical-level message with structured fields in JSON format.
// Use for failures that lose captured data, such as a broken archive.
func Critical(msg string, fields Fields) {
	logWithLevel("critical", msg, fields)
}

// Enabled reports whether messages at level would be written.
func Enabled(level string) bool {
	return shouldLog(level)
}

func logWithLevel(level string, msg string, fields Fields) {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return
	}
	if err := assert.Check(len(msg) <= 2048, "log message too large: %d", len(msg)); err != nil {
		return
	}
	if !shouldLog(level) {
		return
	}

	out := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		log.Printf("{\"level\":\"error\",\"msg\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	log.Print(string(payload))
}

func shouldLog(level string) bool {
	if err := assert.Check(len(level) <= 16, "log level too long: %d", len(level)); err != nil {
		return false
	}
	levelOnce.Do(func() {
		envLevel := strings.ToLower(os.Getenv("RPCDEVTOOLS_LOG_LEVEL"))
		if envLevel == "" {
			envLevel = "info"
		}
		minLevel.Store(int32(levelValue(envLevel)))
	})
	return int32(levelValue(level)) >= minLevel.Load()
}

func levelValue(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	case "critical":
		return levelCritical
	default:
		return levelInfo
	}
}

package alog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String converts Level to string
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Entry represents a structured log entry
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Logger writes human-readable lines to the console and, when file output
// is enabled, JSON lines to a size-rotated log file.
type Logger struct {
	level      Level
	fileWriter io.Writer
	fileCloser io.Closer
	consoleOut io.Writer
	consoleErr io.Writer
	fields     map[string]any
}

// Config holds logger configuration
type Config struct {
	Level         Level
	LogDir        string
	FileName      string
	EnableConsole bool
	EnableFile    bool
	MaxSizeMB     int
	MaxBackups    int
}

// New creates a new logger instance
func New(config Config) (*Logger, error) {
	logger := &Logger{
		level:  config.Level,
		fields: make(map[string]any),
	}
	if config.EnableConsole {
		logger.consoleOut = os.Stdout
		logger.consoleErr = os.Stderr
	}

	if config.EnableFile {
		if err := os.MkdirAll(config.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("error creating logs directory: %w", err)
		}
		name := config.FileName
		if name == "" {
			name = "telepage.log"
		}
		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(config.LogDir, name),
			MaxSize:    maxSize,
			MaxBackups: config.MaxBackups,
		}
		logger.fileWriter = rotator
		logger.fileCloser = rotator
	}

	return logger, nil
}

// WithField adds a field to the logger (returns new instance)
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]any) *Logger {
	newLogger := *l
	newLogger.fields = make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return &newLogger
}

func (l *Logger) log(level Level, message string, err error) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Fields:    l.fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if l.fileWriter != nil {
		jsonData, _ := json.Marshal(entry)
		fmt.Fprintln(l.fileWriter, string(jsonData))
	}
	if l.consoleOut != nil || l.consoleErr != nil {
		l.writeToConsole(entry)
	}
}

func (l *Logger) writeToConsole(entry Entry) {
	var output io.Writer = l.consoleOut
	var icon string

	switch entry.Level {
	case "DEBUG":
		icon = "🔍"
	case "INFO":
		icon = "ℹ️"
	case "WARN":
		icon = "⚠️"
		output = l.consoleErr
	case "ERROR":
		icon = "❌"
		output = l.consoleErr
	case "FATAL":
		icon = "💀"
		output = l.consoleErr
	default:
		icon = "📝"
	}
	if output == nil {
		return
	}

	timestamp := entry.Timestamp[11:19] // HH:MM:SS

	message := fmt.Sprintf("%s [%s] %s %s", timestamp, entry.Level, icon, entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var fieldParts []string
		for _, k := range keys {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
		}
		message += fmt.Sprintf(" | %s", strings.Join(fieldParts, " "))
	}
	if entry.Error != "" {
		message += fmt.Sprintf(" | error=%s", entry.Error)
	}

	fmt.Fprintln(output, message)
}

// Public log methods
func (l *Logger) Debug(message string) {
	l.log(DebugLevel, message, nil)
}

func (l *Logger) Debugf(format string, args ...any) {
	if DebugLevel >= l.level {
		l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
	}
}

func (l *Logger) Info(message string) {
	l.log(InfoLevel, message, nil)
}

func (l *Logger) Infof(format string, args ...any) {
	if InfoLevel >= l.level {
		l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
	}
}

func (l *Logger) Warn(message string) {
	l.log(WarnLevel, message, nil)
}

func (l *Logger) Warnf(format string, args ...any) {
	if WarnLevel >= l.level {
		l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
	}
}

func (l *Logger) Error(message string) {
	l.log(ErrorLevel, message, nil)
}

func (l *Logger) Errorf(format string, args ...any) {
	if ErrorLevel >= l.level {
		l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
	}
}

func (l *Logger) ErrorWithErr(message string, err error) {
	l.log(ErrorLevel, message, err)
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.log(FatalLevel, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Close closes the rotated log file, if any
func (l *Logger) Close() error {
	if l.fileCloser != nil {
		return l.fileCloser.Close()
	}
	return nil
}

// Global logger for convenience
var GlobalLogger *Logger

// InitializeGlobalLogger initializes the global logger
func InitializeGlobalLogger(config Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}
	GlobalLogger = logger
	return nil
}

// CloseGlobalLogger closes the global logger
func CloseGlobalLogger() error {
	if GlobalLogger != nil {
		return GlobalLogger.Close()
	}
	return nil
}

// Convenience functions for the global logger
func Debugf(format string, args ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Debugf(format, args...)
	}
}

func Infof(format string, args ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Infof(format, args...)
	}
}

func Warnf(format string, args ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Warnf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Errorf(format, args...)
	}
}

func ErrorWithErr(message string, err error) {
	if GlobalLogger != nil {
		GlobalLogger.ErrorWithErr(message, err)
	}
}

// WithField creates a logger with an additional field
func WithField(key string, value any) *Logger {
	if GlobalLogger != nil {
		return GlobalLogger.WithField(key, value)
	}
	return nil
}

// WithFields creates a logger with additional fields
func WithFields(fields map[string]any) *Logger {
	if GlobalLogger != nil {
		return GlobalLogger.WithFields(fields)
	}
	return nil
}

// ParseLevel converts string to Level
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

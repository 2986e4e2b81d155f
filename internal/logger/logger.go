package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents the logging level
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// String returns the upper-case level name.
func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Component represents the logging component
type Component string

const (
	ComponentApp        Component = "app"
	ComponentGateway    Component = "gateway"
	ComponentSolver     Component = "solver"
	ComponentKeys       Component = "keys"
	ComponentCipher     Component = "cipher"
	ComponentUnmask     Component = "unmask"
	ComponentSite       Component = "site"
	ComponentDownloader Component = "downloader"
)

// AllComponents lists every known component.
var AllComponents = []Component{
	ComponentApp,
	ComponentGateway,
	ComponentSolver,
	ComponentKeys,
	ComponentCipher,
	ComponentUnmask,
	ComponentSite,
	ComponentDownloader,
}

// Format represents the log output format
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatColor
)

// Fields carries structured key/value context for an entry.
type Fields = map[string]interface{}

// Config holds logger configuration
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	Components map[Component]bool
	Timestamp  bool
}

// DefaultConfig returns default logger configuration. Only the app and
// gateway components are enabled; the rest are opt-in.
func DefaultConfig() *Config {
	components := make(map[Component]bool, len(AllComponents))
	for _, c := range AllComponents {
		components[c] = false
	}
	components[ComponentApp] = true
	components[ComponentGateway] = true
	return &Config{
		Level:      INFO,
		Format:     FormatText,
		Output:     os.Stderr,
		Components: components,
	}
}

// Entry represents a single log entry
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component Component `json:"component"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
}

// Logger provides structured logging functionality
type Logger struct {
	config *Config
	mu     sync.RWMutex
}

// New creates a new logger instance
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Components == nil {
		config.Components = make(map[Component]bool)
	}
	if config.Output == nil {
		config.Output = os.Stderr
	}
	return &Logger{config: config}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(&Config{Level: ERROR + 1, Output: io.Discard})
}

// WithComponent creates a new logger instance for a specific component
func (l *Logger) WithComponent(component Component) *ComponentLogger {
	return &ComponentLogger{logger: l, component: component}
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Level = level
}

// SetFormat changes the log format
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Format = format
}

// SetOutput changes the log output
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Output = w
}

// EnableComponent enables logging for a specific component
func (l *Logger) EnableComponent(component Component) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Components[component] = true
}

// DisableComponent disables logging for a specific component
func (l *Logger) DisableComponent(component Component) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Components[component] = false
}

// Enabled reports whether an entry at level for component would be written.
func (l *Logger) Enabled(level Level, component Component) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.config.Level && l.config.Components[component]
}

func (l *Logger) log(level Level, component Component, message string, fields Fields) {
	if !l.Enabled(level, component) {
		return
	}
	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var line string
	switch l.config.Format {
	case FormatJSON:
		data, _ := json.Marshal(entry)
		line = string(data)
	case FormatColor:
		line = l.formatColor(level, entry)
	default:
		line = l.formatText(entry)
	}
	fmt.Fprintln(l.config.Output, line)
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Logger) formatText(entry Entry) string {
	var b strings.Builder
	if l.config.Timestamp {
		b.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05") + " ")
	}
	fmt.Fprintf(&b, "[%s] [%s] %s", entry.Level, entry.Component, entry.Message)
	for _, k := range sortedKeys(entry.Fields) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}
	return b.String()
}

var (
	colorTime      = color.New(color.FgHiBlack)
	colorComponent = color.New(color.FgCyan)
	colorKey       = color.New(color.FgYellow)
	colorValue     = color.New(color.FgGreen)
	levelColors    = map[Level]*color.Color{
		TRACE: color.New(color.FgWhite),
		DEBUG: color.New(color.FgHiBlue),
		INFO:  color.New(color.FgHiGreen),
		WARN:  color.New(color.FgHiYellow),
		ERROR: color.New(color.FgHiRed, color.Bold),
	}
)

func (l *Logger) formatColor(level Level, entry Entry) string {
	var b strings.Builder
	if l.config.Timestamp {
		b.WriteString(colorTime.Sprint(entry.Timestamp.Format("2006-01-02 15:04:05")) + " ")
	}
	lc, ok := levelColors[level]
	if !ok {
		lc = color.New(color.Reset)
	}
	b.WriteString(lc.Sprintf("[%s]", entry.Level))
	b.WriteString(" " + colorComponent.Sprintf("[%s]", entry.Component))
	b.WriteString(" " + entry.Message)
	for _, k := range sortedKeys(entry.Fields) {
		b.WriteString(" " + colorKey.Sprint(k) + "=" + colorValue.Sprint(entry.Fields[k]))
	}
	return b.String()
}

// ComponentLogger provides component-specific logging
type ComponentLogger struct {
	logger    *Logger
	component Component
}

// Trace logs a trace message
func (cl *ComponentLogger) Trace(message string, fields ...Fields) {
	cl.log(TRACE, message, fields...)
}

// Debug logs a debug message
func (cl *ComponentLogger) Debug(message string, fields ...Fields) {
	cl.log(DEBUG, message, fields...)
}

// Info logs an info message
func (cl *ComponentLogger) Info(message string, fields ...Fields) {
	cl.log(INFO, message, fields...)
}

// Warn logs a warning message
func (cl *ComponentLogger) Warn(message string, fields ...Fields) {
	cl.log(WARN, message, fields...)
}

// Error logs an error message
func (cl *ComponentLogger) Error(message string, fields ...Fields) {
	cl.log(ERROR, message, fields...)
}

// log merges all field maps, later keys winning.
func (cl *ComponentLogger) log(level Level, message string, fields ...Fields) {
	var merged Fields
	switch len(fields) {
	case 0:
	case 1:
		merged = fields[0]
	default:
		merged = make(Fields)
		for _, f := range fields {
			for k, v := range f {
				merged[k] = v
			}
		}
	}
	cl.logger.log(level, cl.component, message, merged)
}

var (
	globalMu     sync.RWMutex
	globalLogger = New(DefaultConfig())
)

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// WithComponent returns a component logger from global logger
func WithComponent(component Component) *ComponentLogger {
	return GetGlobalLogger().WithComponent(component)
}

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured logging for keeper components.
// Every entry carries the component name and the run ID of the current process.
//
// Loggers are cheap to create and are usually held in a package-level variable.
// They resolve the shared sink at write time, so loggers created in init()
// pick up a later call to Configure.
type Logger struct {
	component string
	fields    map[string]string
}

// LogConfig controls the shared sink every Logger writes to.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error. Defaults to debug.
	Level string `yaml:"level" envconfig:"LEVEL"`

	// Format is json or console. Defaults to json.
	Format string `yaml:"format" envconfig:"FORMAT"`

	// Output is file, stdout or stderr. Defaults to file.
	Output string `yaml:"output" envconfig:"OUTPUT"`

	// Dir is the directory for file output. Defaults to ~/.keeper/logs.
	Dir string `yaml:"dir" envconfig:"DIR"`
}

var (
	// Global run ID for the current execution
	runID     string
	runIDOnce sync.Once

	sinkMu   sync.RWMutex
	sink     *zerolog.Logger
	sinkFile *os.File
	sinkPath string

	// defaultOnce guards lazy creation of the default file sink
	defaultOnce sync.Once
)

// getRunID returns or creates the run ID for this execution
func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// NewLogger creates a logger for a specific component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// With returns a child logger that adds key=value to every entry.
func (l *Logger) With(key, value string) *Logger {
	fields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{component: l.component, fields: fields}
}

// Configure replaces the shared sink. It returns the log file path when
// Output is file, or an empty string otherwise. When the file cannot be
// opened the sink falls back to stderr and the error is returned.
func Configure(cfg LogConfig) (string, error) {
	level := zerolog.DebugLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return "", fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var (
		out     io.Writer
		file    *os.File
		path    string
		openErr error
	)
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "", "file":
		file, path, openErr = openLogFile(cfg.Dir)
		if openErr != nil {
			out = os.Stderr
		} else {
			out = file
		}
	default:
		return "", fmt.Errorf("invalid log output %q", cfg.Output)
	}

	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05.000",
			NoColor:    file != nil,
		}
	}

	install(out, level, file, path)
	if openErr != nil {
		current().Warn().Err(openErr).Msg("file logging unavailable, falling back to stderr")
	}
	return path, openErr
}

// SetOutput routes every logger to w as JSON at the given level.
// It is mainly useful in tests and for embedding.
func SetOutput(w io.Writer, level zerolog.Level) {
	install(w, level, nil, "")
}

// Close closes the log file of the shared sink, if any.
func Close() error {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sinkFile == nil {
		return nil
	}
	err := sinkFile.Close()
	sinkFile = nil
	return err
}

// GetRunID returns the current global run ID
func GetRunID() string {
	return getRunID()
}

// LogPath returns the path of the current log file, or "" when not logging to a file.
func LogPath() string {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sinkPath
}

func openLogFile(dir string) (*os.File, string, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".keeper", "logs")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-keeper.log", getRunID()))
	// Append mode: several runs of a component may share the file
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file: %w", err)
	}
	return file, path, nil
}

func install(out io.Writer, level zerolog.Level, file *os.File, path string) {
	zl := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("run_id", getRunID()).
		Logger()

	sinkMu.Lock()
	old := sinkFile
	sink = &zl
	sinkFile = file
	sinkPath = path
	sinkMu.Unlock()

	if old != nil && old != file {
		_ = old.Close()
	}
}

// current returns the shared sink, creating the default file sink on first use.
func current() *zerolog.Logger {
	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s != nil {
		return s
	}

	defaultOnce.Do(func() {
		_, _ = Configure(LogConfig{})
	})
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink
}

func (l *Logger) event(e *zerolog.Event) *zerolog.Event {
	e = e.Str("component", l.component)
	for k, v := range l.fields {
		e = e.Str(k, v)
	}
	return e
}

// Printf logs a formatted message at info level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.event(current().Info()).Msgf(format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.event(current().Debug()).Msgf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.event(current().Info()).Msgf(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.event(current().Warn()).Msgf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.event(current().Error()).Msgf(format, v...)
}

// Zerolog returns a zerolog logger bound to this component, for callers
// that want typed fields.
func (l *Logger) Zerolog() zerolog.Logger {
	ctx := current().With().Str("component", l.component)
	for k, v := range l.fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}

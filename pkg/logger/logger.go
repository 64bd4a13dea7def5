// Package logger provides the structured logger shared by every component of
// the service layer. It is a thin layer over logrus so call sites can keep
// using WithField/WithError chains.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls level, format and destination of log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// Logger wraps a logrus logger bound to a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Invalid values fall back to info
// level, text format and stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, err := openOutput(cfg)
	if err != nil {
		base.SetOutput(os.Stdout)
		base.WithError(err).Warn("falling back to stdout for log output")
	} else {
		base.SetOutput(out)
	}

	return &Logger{Logger: base}
}

// NewDefault returns an info-level text logger tagged with component.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"}).Named(component)
}

// WithComponent returns an entry tagged with the logger's component name, if any.
func (l *Logger) WithComponent() *logrus.Entry {
	if l.component == "" {
		return logrus.NewEntry(l.Logger)
	}
	return l.Logger.WithField("component", l.component)
}

// Named returns a logger writing to the same output with the same level and
// formatter, whose entries all carry the given component field. Hooks
// registered on l before the call are inherited.
func (l *Logger) Named(component string) *Logger {
	base := &logrus.Logger{
		Out:          l.Out,
		Formatter:    l.Formatter,
		Level:        l.GetLevel(),
		ReportCaller: l.ReportCaller,
		ExitFunc:     l.ExitFunc,
		Hooks:        make(logrus.LevelHooks),
	}
	if component != "" {
		base.AddHook(componentHook(component))
	}
	for level, hooks := range l.Hooks {
		for _, h := range hooks {
			if _, ok := h.(componentHook); ok {
				continue
			}
			base.Hooks[level] = append(base.Hooks[level], h)
		}
	}
	return &Logger{Logger: base, component: component}
}

// componentHook stamps the component field on entries that lack one.
type componentHook string

func (componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = string(h)
	}
	return nil
}

// Component reports the component tag.
func (l *Logger) Component() string {
	return l.component
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

func openOutput(cfg LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "bookly"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		f, err := os.OpenFile(filepath.Clean(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}
}

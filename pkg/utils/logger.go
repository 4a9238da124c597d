package utils

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // text or json
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
	// Console mirrors entries to ConsoleWriter, or stdout when it is nil.
	Console       bool      `json:"console" yaml:"console"`
	ConsoleWriter io.Writer `json:"-" yaml:"-"`
}

// Logger is a logrus logger with an optional rotating file sink.
type Logger struct {
	*logrus.Logger
	config   LogConfig
	mu       sync.Mutex
	fileSink *lumberjack.Logger
	service  *ServiceHook
}

func NewLogger(config LogConfig, service, version string) (*Logger, error) {
	config = normalizeLogConfig(config)
	l := &Logger{
		Logger: logrus.New(),
		config: config,
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch config.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableColors:   config.File != "",
		})
	}

	if err := l.setOutput(); err != nil {
		return nil, err
	}

	l.service = &ServiceHook{Service: service, Version: version, Hostname: getHostname()}
	l.AddHook(&CallerHook{})
	l.AddHook(l.service)

	return l, nil
}

func normalizeLogConfig(c LogConfig) LogConfig {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "text"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 100
	}
	if c.MaxBackups < 0 {
		c.MaxBackups = 0
	}
	return c
}

func (l *Logger) setOutput() error {
	var writers []io.Writer

	if l.config.File != "" {
		if err := os.MkdirAll(filepath.Dir(l.config.File), 0o755); err != nil {
			return err
		}
		l.fileSink = &lumberjack.Logger{
			Filename:   l.config.File,
			MaxSize:    l.config.MaxSizeMB,
			MaxBackups: l.config.MaxBackups,
			Compress:   l.config.Compress,
		}
		writers = append(writers, l.fileSink)
	}

	if l.config.Console || len(writers) == 0 {
		console := l.config.ConsoleWriter
		if console == nil {
			console = os.Stdout
		}
		writers = append(writers, console)
	}

	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

// SetRunID stamps subsequent entries with run_id. An empty id removes it.
func (l *Logger) SetRunID(id string) {
	if l.service != nil {
		l.service.SetRunID(id)
	}
}

func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileSink != nil {
		return l.fileSink.Rotate()
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileSink != nil {
		err := l.fileSink.Close()
		l.fileSink = nil
		return err
	}
	return nil
}

func (l *Logger) WithDomain(domain string) *logrus.Entry {
	return l.WithField("domain", domain)
}

type CallerHook struct{}

func (h *CallerHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *CallerHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["caller"]; ok {
		return nil
	}

	const maxDepth = 25
	for i := 4; i < 4+maxDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fnName := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			fnName = fn.Name()
		}
		if strings.Contains(file, "/sirupsen/logrus") || strings.Contains(file, "/pkg/utils/logger.go") {
			continue
		}
		entry.Data["caller"] = shortFunc(fnName) + ":" + filepath.Base(file) + ":" + strconv.Itoa(line)
		break
	}
	return nil
}

func shortFunc(full string) string {
	if idx := strings.LastIndex(full, "/"); idx >= 0 && idx+1 < len(full) {
		full = full[idx+1:]
	}
	return full
}

// ServiceHook adds process identity to every entry.
type ServiceHook struct {
	Service  string
	Version  string
	Hostname string

	mu    sync.RWMutex
	runID string
}

func (h *ServiceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ServiceHook) SetRunID(id string) {
	h.mu.Lock()
	h.runID = id
	h.mu.Unlock()
}

func (h *ServiceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.Service
	entry.Data["version"] = h.Version
	entry.Data["hostname"] = h.Hostname
	h.mu.RLock()
	if h.runID != "" {
		entry.Data["run_id"] = h.runID
	}
	h.mu.RUnlock()
	return nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

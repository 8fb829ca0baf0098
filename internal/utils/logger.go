package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text, json
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // 天
	Compress   bool
}

var (
	base   = newBaseLogger()
	baseMu sync.RWMutex
)

func newBaseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
	})
	l.SetLevel(logrus.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// InitLogging 根据配置重置全局logrus实例，已创建的Logger同样生效
func InitLogging(cfg LogConfig) error {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if os.Getenv("DEBUG") == "true" {
		level = logrus.DebugLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   true,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	default:
		return fmt.Errorf("不支持的日志格式: %s", cfg.Format)
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if cfg.FilePath == "" {
			return fmt.Errorf("日志输出为file时必须指定文件路径")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if level == logrus.DebugLevel {
			l.SetOutput(io.MultiWriter(os.Stdout, rotator))
		} else {
			l.SetOutput(rotator)
		}
	default:
		return fmt.Errorf("不支持的日志输出: %s", cfg.Output)
	}

	baseMu.Lock()
	base = l
	baseMu.Unlock()
	return nil
}

// SetOutput 替换全局日志输出，测试中用于静默日志
func SetOutput(w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base.SetOutput(w)
}

type Logger struct {
	name string
}

func NewLogger(name string) *Logger {
	return &Logger{name: name}
}

func (l *Logger) entry() *logrus.Entry {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base.WithField("module", l.name)
}

// WithFields 返回带附加字段的logrus条目
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(logrus.Fields(fields))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry().Warnf(format, args...)
}

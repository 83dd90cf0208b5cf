// Package logger provides structured logging with per-package context
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithPackage(pkg string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// PackageLogger implements Logger with package awareness
type PackageLogger struct {
	logger  *logrus.Logger
	pkgName string
}

// KilnFormatter formats logs with level colors and a package prefix
type KilnFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *KilnFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string
	switch entry.Level {
	case logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgGreen)
		levelText = "INFO"
	}

	pkgPrefix := ""
	if pkg, ok := entry.Data["package"]; ok {
		pkgPrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(pkg))
		delete(entry.Data, "package")
	}

	var output string
	if f.DisableColors {
		output = fmt.Sprintf("[%s] %s: %s%s", timestamp, levelText, pkgPrefix, entry.Message)
	} else {
		output = fmt.Sprintf("[%s] %s: %s%s", timestamp, levelColor.Sprint(levelText), pkgPrefix, entry.Message)
	}

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := " {"
		for i, k := range keys {
			if i > 0 {
				fields += ", "
			}
			fields += fmt.Sprintf("%s=%v", k, entry.Data[k])
		}
		fields += "}"
		output += color.New(color.FgWhite, color.Faint).Sprint(fields)
	}

	return []byte(output + "\n"), nil
}

// CreateLogger creates a new logger instance. When logFile is non-empty,
// output is teed to that file in addition to stdout.
func CreateLogger(logFile string, logLevel string) Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&KilnFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   false,
	})

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &PackageLogger{logger: log}
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logLevel string, output io.Writer) Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&KilnFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   true,
	})
	log.SetOutput(output)

	return &PackageLogger{logger: log}
}

// WithPackage creates a new logger with package context
func (l *PackageLogger) WithPackage(pkg string) Logger {
	return &PackageLogger{
		logger:  l.logger,
		pkgName: pkg,
	}
}

func (l *PackageLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields)
	if l.pkgName != "" {
		result["package"] = l.pkgName
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Info logs an info message
func (l *PackageLogger) Info(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

// Error logs an error message
func (l *PackageLogger) Error(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

// Warn logs a warning message
func (l *PackageLogger) Warn(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

// Debug logs a debug message
func (l *PackageLogger) Debug(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// Success logs a success message (info level with a check mark)
func (l *PackageLogger) Success(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Info("✅ " + message)
}

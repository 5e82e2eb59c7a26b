// filename: internal/common/logging/logger.go
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger представляет логгер приложения
type Logger struct {
	*logrus.Logger
}

// Config представляет конфигурацию логирования
type Config struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// NewLogger создает новый логгер // v1.0
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	// Устанавливаем формат
	switch config.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Устанавливаем вывод
	if err := setOutput(logger, config); err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// setOutput устанавливает вывод для логгера // v1.0
func setOutput(logger *logrus.Logger, config Config) error {
	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Любое другое значение трактуем как путь к файлу
		dir := filepath.Dir(config.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, file))
	}
	return nil
}

// WithRule добавляет информацию о правиле к логгеру // v1.0
func (l *Logger) WithRule(ruleID, ruleName string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"rule_id":   ruleID,
		"rule_name": ruleName,
	})
}

// WithSession добавляет информацию о сессии к логгеру // v1.0
func (l *Logger) WithSession(sessionID, ruleID, correlationKey string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"session_id":      sessionID,
		"rule_id":         ruleID,
		"correlation_key": correlationKey,
	})
}

// WithAlert добавляет информацию об алерте к логгеру // v1.0
func (l *Logger) WithAlert(alertID, ruleID, severity string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"rule_id":  ruleID,
		"severity": severity,
	})
}

// WithEvent добавляет информацию о событии к логгеру // v1.0
func (l *Logger) WithEvent(eventID, eventType string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"event_id":   eventID,
		"event_type": eventType,
	})
}

// SetLevel устанавливает уровень логирования // v1.0
func (l *Logger) SetLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Logger.SetLevel(logLevel)
	return nil
}

// GetLevel возвращает текущий уровень логирования // v1.0
func (l *Logger) GetLevel() string {
	return l.Logger.GetLevel().String()
}

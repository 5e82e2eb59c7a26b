// internal/common/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode представляет код ошибки
type ErrorCode string

const (
	// Общие ошибки
	ErrorCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeConflict   ErrorCode = "CONFLICT"
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"

	// Ошибки движка корреляции
	ErrorCodeRuleConfig       ErrorCode = "RULE_CONFIG_ERROR"
	ErrorCodeEvaluation       ErrorCode = "EVALUATION_ERROR"
	ErrorCodeSinkUnavailable  ErrorCode = "SINK_UNAVAILABLE"
	ErrorCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	// Ошибки событий
	ErrorCodeEventInvalid     ErrorCode = "EVENT_INVALID"
	ErrorCodeEventParseFailed ErrorCode = "EVENT_PARSE_FAILED"

	// Ошибки инфраструктуры
	ErrorCodeDBConnection   ErrorCode = "DB_CONNECTION_ERROR"
	ErrorCodeDBQuery        ErrorCode = "DB_QUERY_ERROR"
	ErrorCodeNATSConnection ErrorCode = "NATS_CONNECTION_ERROR"
	ErrorCodeNATSPublish    ErrorCode = "NATS_PUBLISH_ERROR"
	ErrorCodeNATSSubscribe  ErrorCode = "NATS_SUBSCRIBE_ERROR"
	ErrorCodeCHInsert       ErrorCode = "CH_INSERT_ERROR"
	ErrorCodeRedis          ErrorCode = "REDIS_ERROR"
)

// EngineError представляет ошибку движка корреляции с кодом
type EngineError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Internal error                  `json:"-"`
}

// Error возвращает строковое представление ошибки // v1.0
func (e *EngineError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает внутреннюю ошибку // v1.0
func (e *EngineError) Unwrap() error {
	return e.Internal
}

// New создает новую ошибку с кодом // v1.0
func New(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap оборачивает существующую ошибку // v1.0
func Wrap(err error, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:     code,
		Message:  message,
		Internal: err,
		Details:  make(map[string]interface{}),
	}
}

// AddDetail добавляет деталь к ошибке // v1.0
func (e *EngineError) AddDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode проверяет, имеет ли ошибка определенный код // v1.0
func IsErrorCode(err error, code ErrorCode) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code == code
	}
	return false
}

// GetErrorCode возвращает код ошибки // v1.0
func GetErrorCode(err error) ErrorCode {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ErrorCodeInternal
}

// RuleConfigError создает ошибку конфигурации правила // v1.0
func RuleConfigError(ruleID, message string) *EngineError {
	return New(ErrorCodeRuleConfig, fmt.Sprintf("rule %s: %s", ruleID, message)).
		AddDetail("rule_id", ruleID)
}

// EvaluationError создает ошибку оценки правила // v1.0
func EvaluationError(err error, ruleID string) *EngineError {
	return Wrap(err, ErrorCodeEvaluation, fmt.Sprintf("rule %s evaluation failed", ruleID)).
		AddDetail("rule_id", ruleID)
}

// SinkUnavailableError создает ошибку недоступности приемника алертов // v1.0
func SinkUnavailableError(err error, alertID string) *EngineError {
	return Wrap(err, ErrorCodeSinkUnavailable, fmt.Sprintf("failed to deliver alert %s", alertID)).
		AddDetail("alert_id", alertID)
}

// NotFoundError создает ошибку "не найдено" // v1.0
func NotFoundError(resource, id string) *EngineError {
	return New(ErrorCodeNotFound, fmt.Sprintf("%s with id '%s' not found", resource, id))
}

// ValidationError создает ошибку валидации // v1.0
func ValidationError(field, message string) *EngineError {
	return New(ErrorCodeValidation, fmt.Sprintf("validation failed for field '%s': %s", field, message))
}

// WrapInternal оборачивает внутреннюю ошибку // v1.0
func WrapInternal(err error, message string) *EngineError {
	return Wrap(err, ErrorCodeInternal, message)
}

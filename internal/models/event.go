// filename: internal/models/event.go
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event представляет нормализованное событие безопасности NDR платформы
type Event struct {
	ID       string                 `json:"id" validate:"required"`
	Type     string                 `json:"type" validate:"required"`
	TS       time.Time              `json:"ts" validate:"required"`
	Source   string                 `json:"source,omitempty"`
	Severity string                 `json:"severity,omitempty"`
	Entity   string                 `json:"entity,omitempty"`
	SourceIP string                 `json:"source_ip,omitempty"`
	DestIP   string                 `json:"dest_ip,omitempty"`
	Fields   map[string]string      `json:"fields,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Raw      string                 `json:"raw,omitempty"`
}

// NewEventFromJSON создает новое событие из JSON строки // v1.0
func NewEventFromJSON(line string) (*Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty event line")
	}

	var event Event
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	// Валидация обязательных полей
	if event.ID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if event.TS.IsZero() {
		return nil, fmt.Errorf("event timestamp is required")
	}

	// Установка значений по умолчанию
	if event.Severity == "" {
		event.Severity = "info"
	}
	if event.Fields == nil {
		event.Fields = make(map[string]string)
	}

	return &event, nil
}

// ToJSON возвращает событие в JSON формате // v1.0
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// GetField извлекает значение поля события по имени // v1.0
func (e *Event) GetField(name string) string {
	switch name {
	case "id":
		return e.ID
	case "type":
		return e.Type
	case "source":
		return e.Source
	case "severity":
		return e.Severity
	case "entity":
		return e.Entity
	case "source_ip":
		return e.SourceIP
	case "dest_ip":
		return e.DestIP
	default:
		// Сначала произвольные поля
		if e.Fields != nil {
			if value, exists := e.Fields[name]; exists {
				return value
			}
		}
		// Затем payload, если значение скалярное
		if e.Payload != nil {
			if value, exists := e.Payload[name]; exists {
				switch v := value.(type) {
				case string:
					return v
				case float64:
					return strconv.FormatFloat(v, 'f', -1, 64)
				case bool:
					return strconv.FormatBool(v)
				}
			}
		}
		return ""
	}
}

// HasField проверяет наличие поля у события // v1.0
func (e *Event) HasField(name string) bool {
	return e.GetField(name) != ""
}

// IsHighSeverity проверяет, является ли событие высокоприоритетным // v1.0
func (e *Event) IsHighSeverity() bool {
	return e.Severity == "high" || e.Severity == "critical"
}

// AddField добавляет поле к событию // v1.0
func (e *Event) AddField(key, value string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
}

// SetTimestampFromUnix устанавливает timestamp из Unix timestamp // v1.0
func (e *Event) SetTimestampFromUnix(unix int64) {
	e.TS = time.Unix(unix, 0)
}

// SetTimestampFromUnixMilli устанавливает timestamp из Unix timestamp в миллисекундах // v1.0
func (e *Event) SetTimestampFromUnixMilli(unixMilli int64) {
	e.TS = time.UnixMilli(unixMilli)
}

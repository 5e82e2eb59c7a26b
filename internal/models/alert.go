// filename: internal/models/alert.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Alert представляет алерт, сгенерированный движком корреляции
type Alert struct {
	ID          string            `json:"id" db:"id"`
	TS          time.Time         `json:"ts" db:"ts"`
	RuleID      string            `json:"rule_id" db:"rule_id"`
	SessionID   string            `json:"session_id" db:"session_id"`
	Severity    string            `json:"severity" db:"severity"`
	Title       string            `json:"title" db:"title"`
	Description string            `json:"description" db:"description"`
	DedupKey    string            `json:"dedup_key" db:"dedup_key"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	Status      string            `json:"status" db:"status"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// AlertStatus представляет статус алерта
type AlertStatus string

const (
	AlertStatusNew          AlertStatus = "new"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusClosed       AlertStatus = "closed"
)

// NewAlert создает новый алерт // v1.0
func NewAlert(ruleID, sessionID, severity, title, description, dedupKey string, metadata map[string]string) *Alert {
	now := time.Now()
	return &Alert{
		ID:          uuid.New().String(),
		TS:          now,
		RuleID:      ruleID,
		SessionID:   sessionID,
		Severity:    severity,
		Title:       title,
		Description: description,
		DedupKey:    dedupKey,
		Metadata:    metadata,
		Status:      string(AlertStatusNew),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ToJSON возвращает алерт в JSON формате // v1.0
func (a *Alert) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

// UpdateStatus обновляет статус алерта // v1.0
func (a *Alert) UpdateStatus(status AlertStatus) {
	a.Status = string(status)
	a.UpdatedAt = time.Now()
}

// IsHighPriority проверяет, является ли алерт высокоприоритетным // v1.0
func (a *Alert) IsHighPriority() bool {
	return a.Severity == "high" || a.Severity == "critical"
}

// AddMetadata добавляет значение в метаданные алерта // v1.0
func (a *Alert) AddMetadata(key, value string) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
}

// GetAge возвращает возраст алерта // v1.0
func (a *Alert) GetAge() time.Duration {
	return time.Since(a.CreatedAt)
}

// Clone создает копию алерта // v1.0
func (a *Alert) Clone() *Alert {
	clone := *a
	if a.Metadata != nil {
		clone.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

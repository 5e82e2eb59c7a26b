// filename: internal/models/session.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus представляет статус корреляционной сессии
type SessionStatus string

const (
	SessionStatusActive         SessionStatus = "active"
	SessionStatusExpired        SessionStatus = "expired"
	SessionStatusAlertGenerated SessionStatus = "alert_generated"
	SessionStatusEvicted        SessionStatus = "evicted"
)

// Session представляет состояние одного правила для одного ключа корреляции
// в пределах одного временного окна
type Session struct {
	ID             string                 `json:"id"`
	RuleID         string                 `json:"rule_id"`
	CorrelationKey string                 `json:"correlation_key"`
	FirstEventTime time.Time              `json:"first_event_time"`
	LastEventTime  time.Time              `json:"last_event_time"`
	ExpiresAt      time.Time              `json:"expires_at"`
	EventCount     int                    `json:"event_count"`
	EventIDs       []string               `json:"event_ids,omitempty"`
	State          map[string]interface{} `json:"state,omitempty"`
	ConditionMet   bool                   `json:"condition_met"`
	Status         SessionStatus          `json:"status"`
	AlertID        string                 `json:"alert_id,omitempty"`
	ClosedAt       time.Time              `json:"closed_at,omitempty"`
}

// NewSession создает новую активную сессию, окно фиксируется по первому событию // v1.0
func NewSession(ruleID, correlationKey string, firstEventTime time.Time, window time.Duration) *Session {
	return &Session{
		ID:             uuid.New().String(),
		RuleID:         ruleID,
		CorrelationKey: correlationKey,
		FirstEventTime: firstEventTime,
		LastEventTime:  firstEventTime,
		ExpiresAt:      firstEventTime.Add(window),
		EventCount:     0,
		State:          make(map[string]interface{}),
		Status:         SessionStatusActive,
	}
}

// ToJSON возвращает сессию в JSON формате // v1.0
func (s *Session) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// IsActive проверяет, активна ли сессия // v1.0
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// IsTerminal проверяет, находится ли сессия в терминальном состоянии // v1.0
func (s *Session) IsTerminal() bool {
	return s.Status != SessionStatusActive
}

// IsExpirable проверяет, истекло ли окно сессии к моменту now // v1.0
func (s *Session) IsExpirable(now time.Time) bool {
	return s.Status == SessionStatusActive && !now.Before(s.ExpiresAt)
}

// HasEventID проверяет, было ли событие уже учтено в сессии.
// Поиск ограничен емкостью EventIDs, этим же ограничено окно дедупликации.
func (s *Session) HasEventID(id string) bool {
	for _, known := range s.EventIDs {
		if known == id {
			return true
		}
	}
	return false
}

// RecordEventID запоминает ID события, вытесняя самые старые при переполнении // v1.0
func (s *Session) RecordEventID(id string, cap int) {
	if cap <= 0 {
		return
	}
	s.EventIDs = append(s.EventIDs, id)
	if len(s.EventIDs) > cap {
		s.EventIDs = s.EventIDs[len(s.EventIDs)-cap:]
	}
}

// Touch обновляет время последнего события.
// События, пришедшие не по порядку, не сдвигают ExpiresAt назад.
func (s *Session) Touch(eventTime time.Time) {
	if eventTime.After(s.LastEventTime) {
		s.LastEventTime = eventTime
	}
}

// MarkAlerted переводит сессию в терминальное состояние alert_generated // v1.0
func (s *Session) MarkAlerted(alertID string, now time.Time) {
	s.Status = SessionStatusAlertGenerated
	s.AlertID = alertID
	s.ClosedAt = now
}

// MarkExpired переводит сессию в терминальное состояние expired // v1.0
func (s *Session) MarkExpired(now time.Time) {
	s.Status = SessionStatusExpired
	s.ClosedAt = now
}

// MarkEvicted переводит сессию в терминальное состояние evicted при нехватке емкости // v1.0
func (s *Session) MarkEvicted(now time.Time) {
	s.Status = SessionStatusEvicted
	s.ClosedAt = now
}

// Clone создает копию сессии для аудита и снапшотов // v1.0
func (s *Session) Clone() *Session {
	clone := *s
	if s.EventIDs != nil {
		clone.EventIDs = append([]string(nil), s.EventIDs...)
	}
	if s.State != nil {
		clone.State = make(map[string]interface{}, len(s.State))
		for k, v := range s.State {
			clone.State[k] = v
		}
	}
	return &clone
}

// filename: internal/models/rule.go
package models

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Rule представляет правило корреляции в хранилище
type Rule struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Version   int        `json:"version" db:"version"`
	YAML      string     `json:"yaml" db:"yaml"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	Stats     *RuleStats `json:"stats,omitempty"`
}

// RuleStats статистика правила, мутируется только движком корреляции
type RuleStats struct {
	mu                  sync.Mutex
	MatchCount          int64     `json:"match_count"`
	AlertCount          int64     `json:"alert_count"`
	ExpiredCount        int64     `json:"expired_count"`
	SuppressedCount     int64     `json:"suppressed_count"`
	ErrorCount          int64     `json:"error_count"`
	LastMatchTime       time.Time `json:"last_match_time"`
	AvgProcessingTimeMs float64   `json:"average_processing_time_ms"`
	processedSamples    int64
}

// NewRule создает новое правило // v1.0
func NewRule(id, name, yaml string) *Rule {
	now := time.Now()
	return &Rule{
		ID:        id,
		Name:      name,
		Version:   1,
		YAML:      yaml,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
		Stats:     &RuleStats{},
	}
}

// ToJSON возвращает правило в JSON формате // v1.0
func (r *Rule) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// UpdateVersion увеличивает версию правила // v1.0
func (r *Rule) UpdateVersion() {
	r.Version++
	r.UpdatedAt = time.Now()
}

// Enable включает правило // v1.0
func (r *Rule) Enable() {
	r.Enabled = true
	r.UpdatedAt = time.Now()
}

// Disable отключает правило // v1.0
func (r *Rule) Disable() {
	r.Enabled = false
	r.UpdatedAt = time.Now()
}

// Validate проверяет корректность правила // v1.0
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.YAML == "" {
		return fmt.Errorf("rule YAML is required")
	}
	if r.Version <= 0 {
		return fmt.Errorf("rule version must be positive")
	}
	return nil
}

// RecordMatch фиксирует совпадение события с правилом // v1.0
func (s *RuleStats) RecordMatch(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MatchCount++
	if ts.After(s.LastMatchTime) {
		s.LastMatchTime = ts
	}
}

// RecordAlert фиксирует созданный алерт // v1.0
func (s *RuleStats) RecordAlert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AlertCount++
}

// RecordExpired фиксирует сессию, истекшую без алерта // v1.0
func (s *RuleStats) RecordExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiredCount++
}

// RecordSuppressed фиксирует подавленный алерт // v1.0
func (s *RuleStats) RecordSuppressed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SuppressedCount++
}

// RecordError фиксирует ошибку оценки правила и возвращает накопленное число ошибок // v1.0
func (s *RuleStats) RecordError() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCount++
	return s.ErrorCount
}

// ResetErrors обнуляет счетчик ошибок, бюджет ошибок отсчитывается заново // v1.0
func (s *RuleStats) ResetErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCount = 0
}

// RecordProcessingTime обновляет скользящее среднее времени обработки // v1.0
func (s *RuleStats) RecordProcessingTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := float64(d.Microseconds()) / 1000.0
	s.processedSamples++
	s.AvgProcessingTimeMs += (ms - s.AvgProcessingTimeMs) / float64(s.processedSamples)
}

// Snapshot возвращает копию статистики для отчетности // v1.0
func (s *RuleStats) Snapshot() RuleStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RuleStats{
		MatchCount:          s.MatchCount,
		AlertCount:          s.AlertCount,
		ExpiredCount:        s.ExpiredCount,
		SuppressedCount:     s.SuppressedCount,
		ErrorCount:          s.ErrorCount,
		LastMatchTime:       s.LastMatchTime,
		AvgProcessingTimeMs: s.AvgProcessingTimeMs,
	}
}

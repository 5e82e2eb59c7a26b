// filename: internal/models/suppression.go
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Suppression представляет запись подавления дубликатов алертов
// для пары (правило, ключ корреляции)
type Suppression struct {
	RuleID        string    `json:"rule_id" db:"rule_id"`
	KeyHash       string    `json:"key_hash" db:"key_hash"`
	LastAlertTime time.Time `json:"last_alert_time" db:"last_alert_time"`
	Until         time.Time `json:"until" db:"until"`
}

// NewSuppression создает новую запись подавления // v1.0
func NewSuppression(ruleID, correlationKey string, now time.Time, window time.Duration) *Suppression {
	return &Suppression{
		RuleID:        ruleID,
		KeyHash:       SuppressionKeyHash(ruleID, correlationKey),
		LastAlertTime: now,
		Until:         now.Add(window),
	}
}

// IsActive проверяет, активно ли подавление в момент now // v1.0
func (s *Suppression) IsActive(now time.Time) bool {
	return now.Before(s.Until)
}

// GetRemainingTime возвращает оставшееся время подавления // v1.0
func (s *Suppression) GetRemainingTime(now time.Time) time.Duration {
	if !s.IsActive(now) {
		return 0
	}
	return s.Until.Sub(now)
}

// SuppressionKeyHash генерирует детерминированный хеш ключа подавления // v1.0
func SuppressionKeyHash(ruleID, correlationKey string) string {
	if correlationKey == "" {
		correlationKey = "default"
	}
	hash := sha256.Sum256([]byte(ruleID + "|" + correlationKey))
	return hex.EncodeToString(hash[:])
}

// CorrelationKeyFromFields строит ключ корреляции из значений полей события.
// Пустой набор полей означает одну глобальную сессию на правило.
func CorrelationKeyFromFields(values map[string]string) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// Сортируем для детерминированности
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return strings.Join(parts, "|")
}

// filename: internal/correlator/dsl/evaluator_test.go
package dsl

import (
	"fmt"
	"testing"
	"time"

	"github.com/ndrsec/ndrsec/internal/models"
)

// testEvent создает событие для тестов оценщиков
func testEvent(id string, fields map[string]string) *models.Event {
	return &models.Event{
		ID:     id,
		Type:   "connection_attempt",
		TS:     time.Now(),
		Fields: fields,
	}
}

func TestCountThresholdEvaluator(t *testing.T) {
	evaluator := NewCountThresholdEvaluator(3)
	session := models.NewSession("rule_1", "key", time.Now(), time.Minute)

	for i := 1; i <= 3; i++ {
		session.EventCount = i
		met, err := evaluator.Evaluate(session, testEvent(fmt.Sprintf("evt_%d", i), nil))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		expected := i >= 3
		if met != expected {
			t.Errorf("At count %d expected met=%v, got %v", i, expected, met)
		}
	}
}

func TestFieldPredicateEvaluatorCountsOnlyMatches(t *testing.T) {
	evaluator, err := NewFieldPredicateEvaluator([]Condition{
		{Field: "service", Operator: "eq", Value: "ssh"},
	}, "", 2)
	if err != nil {
		t.Fatalf("Failed to create evaluator: %v", err)
	}

	session := models.NewSession("rule_1", "key", time.Now(), time.Minute)

	// Первое подходящее событие: порог 2 еще не достигнут
	met, err := evaluator.Evaluate(session, testEvent("evt_1", map[string]string{"service": "ssh"}))
	if err != nil || met {
		t.Errorf("Expected no trigger after first match, met=%v err=%v", met, err)
	}

	// Неподходящее событие не увеличивает счетчик
	met, err = evaluator.Evaluate(session, testEvent("evt_2", map[string]string{"service": "http"}))
	if err != nil || met {
		t.Errorf("Non-matching event must not trigger, met=%v err=%v", met, err)
	}
	if got := session.State["qualifying_count"]; got != 1 {
		t.Errorf("Expected qualifying_count 1, got %v", got)
	}

	// Второе подходящее событие достигает порога
	met, err = evaluator.Evaluate(session, testEvent("evt_3", map[string]string{"service": "ssh"}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !met {
		t.Error("Expected trigger at qualifying threshold")
	}
}

func TestFieldPredicateLogic(t *testing.T) {
	conditions := []Condition{
		{Field: "service", Operator: "eq", Value: "ssh"},
		{Field: "severity", Operator: "eq", Value: "high"},
	}

	tests := []struct {
		name     string
		logic    string
		fields   map[string]string
		severity string
		expected bool
	}{
		{"and all match", "and", map[string]string{"service": "ssh"}, "high", true},
		{"and partial", "and", map[string]string{"service": "ssh"}, "low", false},
		{"or partial", "or", map[string]string{"service": "ssh"}, "low", true},
		{"or none", "or", map[string]string{"service": "http"}, "low", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator, err := NewFieldPredicateEvaluator(conditions, tt.logic, 1)
			if err != nil {
				t.Fatalf("Failed to create evaluator: %v", err)
			}

			event := testEvent("evt_1", tt.fields)
			event.Severity = tt.severity

			session := models.NewSession("rule_1", "key", time.Now(), time.Minute)
			met, err := evaluator.Evaluate(session, event)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if met != tt.expected {
				t.Errorf("Expected met=%v, got %v", tt.expected, met)
			}
		})
	}
}

func TestFieldPredicateRejectsBadRegexAtCompileTime(t *testing.T) {
	_, err := NewFieldPredicateEvaluator([]Condition{
		{Field: "uri", Operator: "regex", Value: "[unclosed"},
	}, "", 1)
	if err == nil {
		t.Error("Expected regex compile error at construction")
	}
}

func TestDistinctValueEvaluator(t *testing.T) {
	evaluator := NewDistinctValueEvaluator("dest_port", 3)
	session := models.NewSession("rule_1", "key", time.Now(), time.Minute)

	ports := []string{"22", "80", "80", "443"}
	var lastMet bool
	for i, port := range ports {
		met, err := evaluator.Evaluate(session, testEvent(fmt.Sprintf("evt_%d", i), map[string]string{"dest_port": port}))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		lastMet = met
	}

	// 22, 80, 443: три уникальных значения, повторный 80 не считается
	if !lastMet {
		t.Error("Expected trigger at third distinct value")
	}

	// Событие без поля не меняет множество и не срабатывает
	met, err := evaluator.Evaluate(session, testEvent("evt_x", nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if met {
		t.Error("Event without the tracked field must not trigger")
	}
}

func TestDistinctValueSurvivesJSONRoundtrip(t *testing.T) {
	evaluator := NewDistinctValueEvaluator("dest_port", 2)
	session := models.NewSession("rule_1", "key", time.Now(), time.Minute)

	if _, err := evaluator.Evaluate(session, testEvent("evt_1", map[string]string{"dest_port": "22"})); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Состояние после восстановления из снапшота приходит как map[string]interface{}
	session.State["distinct_values"] = map[string]interface{}{"22": true}

	met, err := evaluator.Evaluate(session, testEvent("evt_2", map[string]string{"dest_port": "443"}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !met {
		t.Error("Expected trigger after roundtripped state plus new value")
	}
}

func TestCompareValuesOperators(t *testing.T) {
	tests := []struct {
		actual   string
		operator string
		value    string
		expected bool
	}{
		{"ssh", "eq", "ssh", true},
		{"ssh", "ne", "http", true},
		{"admin_panel", "contains", "admin", true},
		{"/var/log/auth.log", "startswith", "/var/log", true},
		{"payload.exe", "endswith", ".exe", true},
		{"anything", "exists", "", true},
		{"", "exists", "", false},
		{"10", "gt", "5", true},
		{"10", "lte", "10", true},
		{"3", "gte", "5", false},
		{"tcp", "in", "tcp, udp, icmp", true},
		{"sctp", "nin", "tcp, udp", true},
		// Нечисловое фактическое значение не ошибка, просто не совпадение
		{"n/a", "gt", "5", false},
	}

	for _, tt := range tests {
		condition := compiledCondition{Condition: Condition{Field: "f", Operator: tt.operator, Value: tt.value}}
		got, err := compareValues(tt.actual, condition, tt.value)
		if err != nil {
			t.Errorf("compareValues(%q %s %q) unexpected error: %v", tt.actual, tt.operator, tt.value, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("compareValues(%q %s %q) = %v, expected %v", tt.actual, tt.operator, tt.value, got, tt.expected)
		}
	}
}

func TestCompareNumericBadExpectedValueErrors(t *testing.T) {
	condition := compiledCondition{Condition: Condition{Field: "count", Operator: "gt", Value: "many"}}
	if _, err := compareValues("10", condition, "many"); err == nil {
		t.Error("Expected error for non-numeric comparison value")
	}
}

func TestConditionInvert(t *testing.T) {
	event := testEvent("evt_1", map[string]string{"service": "ssh"})
	condition := compiledCondition{Condition: Condition{Field: "service", Operator: "eq", Value: "ssh", Invert: true}}

	got, err := evaluateCondition(event, condition)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got {
		t.Error("Inverted matching condition must evaluate to false")
	}
}

// filename: internal/correlator/dsl/compiler_test.go
package dsl

import (
	"fmt"
	"testing"
	"time"

	"github.com/ndrsec/ndrsec/internal/models"
)

// compileTestRule компилирует правило порога количества для тестов
func compileTestRule(t *testing.T, threshold int) *CompiledRule {
	rule := &Rule{
		ID:         "rule_count",
		Name:       "Count rule",
		Severity:   "medium",
		Enabled:    true,
		EventTypes: []string{"dns_query"},
		Window:     Duration(time.Minute),
		Threshold:  threshold,
	}

	compiled, err := NewCompiler().CompileRule(rule, 1)
	if err != nil {
		t.Fatalf("Failed to compile rule: %v", err)
	}
	return compiled
}

func TestCompileRuleRejectsInvalid(t *testing.T) {
	rule := &Rule{
		ID:         "bad_rule",
		Name:       "Bad",
		Severity:   "medium",
		EventTypes: []string{"dns_query"},
		Window:     Duration(time.Minute),
		Conditions: []Condition{{Field: "uri", Operator: "regex", Value: "[unclosed"}},
	}

	if _, err := NewCompiler().CompileRule(rule, 1); err == nil {
		t.Error("Expected compile error for broken regex")
	}
}

func TestFoldReachesThresholdExactly(t *testing.T) {
	compiled := compileTestRule(t, 3)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	session := models.NewSession("rule_count", "key", base, time.Minute)

	for i := 1; i <= 3; i++ {
		event := &models.Event{ID: fmt.Sprintf("evt_%d", i), Type: "dns_query", TS: base.Add(time.Duration(i) * time.Second)}
		met, folded, err := compiled.Fold(session, event, 100)
		if err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
		if !folded {
			t.Errorf("Event %d: expected the event to be folded", i)
		}
		expected := i == 3
		if met != expected {
			t.Errorf("Event %d: expected met=%v, got %v", i, expected, met)
		}
	}

	if session.EventCount != 3 {
		t.Errorf("Expected event count 3, got %d", session.EventCount)
	}
	if !session.ConditionMet {
		t.Error("Expected ConditionMet after threshold")
	}
}

func TestFoldIsIdempotentPerEventID(t *testing.T) {
	compiled := compileTestRule(t, 2)
	base := time.Now()
	session := models.NewSession("rule_count", "key", base, time.Minute)

	event := &models.Event{ID: "evt_1", Type: "dns_query", TS: base}

	// Повторная доставка того же события не двигает состояние
	for i := 0; i < 5; i++ {
		met, folded, err := compiled.Fold(session, event, 100)
		if err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
		if met {
			t.Error("Duplicate deliveries must not reach the threshold")
		}
		if folded != (i == 0) {
			t.Errorf("Delivery %d: only the first delivery may fold, got folded=%v", i, folded)
		}
	}

	if session.EventCount != 1 {
		t.Errorf("Expected event count 1 after duplicates, got %d", session.EventCount)
	}
}

func TestFoldDeduplicationBoundedByCap(t *testing.T) {
	compiled := compileTestRule(t, 100)
	base := time.Now()
	session := models.NewSession("rule_count", "key", base, time.Minute)

	// Емкость 2: после двух новых событий первый ID вытеснен
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		if _, _, err := compiled.Fold(session, &models.Event{ID: id, Type: "dns_query", TS: base}, 2); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	// Повтор вытесненного ID засчитывается заново: окно дедупликации
	// ограничено емкостью списка
	if _, _, err := compiled.Fold(session, &models.Event{ID: "evt_1", Type: "dns_query", TS: base}, 2); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	if session.EventCount != 4 {
		t.Errorf("Expected event count 4, got %d", session.EventCount)
	}
}

func TestFoldOutOfOrderEventDoesNotRewind(t *testing.T) {
	compiled := compileTestRule(t, 10)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	session := models.NewSession("rule_count", "key", base, time.Minute)
	expiresAt := session.ExpiresAt

	events := []time.Time{
		base.Add(10 * time.Second),
		base.Add(5 * time.Second), // не по порядку
		base.Add(20 * time.Second),
	}
	for i, ts := range events {
		if _, _, err := compiled.Fold(session, &models.Event{ID: fmt.Sprintf("evt_%d", i), Type: "dns_query", TS: ts}, 100); err != nil {
			t.Fatalf("Fold failed: %v", err)
		}
	}

	if !session.ExpiresAt.Equal(expiresAt) {
		t.Error("Folding must not move the session deadline")
	}
	if !session.LastEventTime.Equal(base.Add(20 * time.Second)) {
		t.Errorf("Expected last event time at +20s, got %v", session.LastEventTime)
	}
}

func TestRequiredFieldsMatcher(t *testing.T) {
	matcher := &requiredFieldsMatcher{fields: []string{"dest_port"}}

	withField := &models.Event{ID: "evt_1", Type: "connection_attempt", TS: time.Now(), Fields: map[string]string{"dest_port": "443"}}
	if !matcher.Match(withField) {
		t.Error("Expected match when required field present")
	}

	withoutField := &models.Event{ID: "evt_2", Type: "connection_attempt", TS: time.Now()}
	if matcher.Match(withoutField) {
		t.Error("Expected reject when required field missing")
	}

	empty := &requiredFieldsMatcher{}
	if !empty.Match(withoutField) {
		t.Error("Matcher without required fields must accept everything")
	}
}

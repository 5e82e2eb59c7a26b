// filename: internal/models/event_test.go
package models

import (
	"testing"
	"time"
)

func TestNewEventFromJSON(t *testing.T) {
	line := `{
		"id": "evt_1",
		"type": "auth_failure",
		"ts": "2025-03-10T12:00:00Z",
		"source_ip": "192.168.1.100",
		"dest_ip": "10.0.0.50",
		"fields": {"service": "ssh", "username": "root"}
	}`

	event, err := NewEventFromJSON(line)
	if err != nil {
		t.Fatalf("Failed to parse event: %v", err)
	}

	if event.ID != "evt_1" {
		t.Errorf("Expected id evt_1, got %s", event.ID)
	}
	if event.Type != "auth_failure" {
		t.Errorf("Expected type auth_failure, got %s", event.Type)
	}
	if event.Severity != "info" {
		t.Errorf("Expected default severity info, got %s", event.Severity)
	}
	if event.Fields["service"] != "ssh" {
		t.Errorf("Expected service field ssh, got %s", event.Fields["service"])
	}

	expected := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if !event.TS.Equal(expected) {
		t.Errorf("Expected ts %v, got %v", expected, event.TS)
	}
}

func TestNewEventFromJSONRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty line", ""},
		{"not json", "not a json line"},
		{"missing id", `{"type": "dns_query", "ts": "2025-03-10T12:00:00Z"}`},
		{"missing type", `{"id": "evt_1", "ts": "2025-03-10T12:00:00Z"}`},
		{"missing ts", `{"id": "evt_1", "type": "dns_query"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEventFromJSON(tt.line); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestEventGetField(t *testing.T) {
	event := &Event{
		ID:       "evt_1",
		Type:     "connection_attempt",
		TS:       time.Now(),
		SourceIP: "192.168.1.100",
		Fields:   map[string]string{"dest_port": "443"},
		Payload: map[string]interface{}{
			"bytes_sent": float64(1024),
			"encrypted":  true,
			"proto":      "tcp",
			"nested":     map[string]interface{}{"ignored": true},
		},
	}

	tests := []struct {
		field    string
		expected string
	}{
		{"id", "evt_1"},
		{"type", "connection_attempt"},
		{"source_ip", "192.168.1.100"},
		{"dest_port", "443"},
		{"bytes_sent", "1024"},
		{"encrypted", "true"},
		{"proto", "tcp"},
		{"nested", ""},
		{"missing", ""},
	}

	for _, tt := range tests {
		if got := event.GetField(tt.field); got != tt.expected {
			t.Errorf("GetField(%s) = %q, expected %q", tt.field, got, tt.expected)
		}
	}
}

func TestEventFieldsShadowPayload(t *testing.T) {
	event := &Event{
		Fields:  map[string]string{"proto": "udp"},
		Payload: map[string]interface{}{"proto": "tcp"},
	}

	if got := event.GetField("proto"); got != "udp" {
		t.Errorf("Fields should shadow payload, got %q", got)
	}
}

func TestCorrelationKeyFromFields(t *testing.T) {
	key := CorrelationKeyFromFields(map[string]string{
		"source_ip": "192.168.1.100",
		"dest_ip":   "10.0.0.50",
	})
	// Поля сортируются по имени для детерминизма
	expected := "dest_ip=10.0.0.50|source_ip=192.168.1.100"
	if key != expected {
		t.Errorf("Expected key %q, got %q", expected, key)
	}

	if CorrelationKeyFromFields(nil) != "" {
		t.Error("Expected empty key for empty field set")
	}
}

func TestSuppressionKeyHashStable(t *testing.T) {
	first := SuppressionKeyHash("rule_1", "key_a")
	second := SuppressionKeyHash("rule_1", "key_a")
	if first != second {
		t.Error("Suppression key hash must be deterministic")
	}

	other := SuppressionKeyHash("rule_1", "key_b")
	if first == other {
		t.Error("Different keys must hash differently")
	}

	// Пустой ключ корреляции ложится в выделенную корзину
	empty := SuppressionKeyHash("rule_1", "")
	if empty == first {
		t.Error("Empty correlation key must have its own hash")
	}
}

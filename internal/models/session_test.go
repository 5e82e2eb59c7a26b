// filename: internal/models/session_test.go
package models

import (
	"testing"
	"time"
)

func TestNewSessionWindowAnchoredAtFirstEvent(t *testing.T) {
	firstEvent := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	session := NewSession("rule_1", "10.0.0.1", firstEvent, 30*time.Second)

	if session.Status != SessionStatusActive {
		t.Errorf("Expected active status, got %s", session.Status)
	}
	if !session.ExpiresAt.Equal(firstEvent.Add(30 * time.Second)) {
		t.Errorf("Expected expiry at firstEvent+window, got %v", session.ExpiresAt)
	}
	if session.EventCount != 0 {
		t.Errorf("Expected zero event count, got %d", session.EventCount)
	}
	if session.ID == "" {
		t.Error("Expected generated session ID")
	}
}

func TestSessionTouchNeverRewinds(t *testing.T) {
	firstEvent := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	session := NewSession("rule_1", "10.0.0.1", firstEvent, time.Minute)

	later := firstEvent.Add(20 * time.Second)
	session.Touch(later)
	if !session.LastEventTime.Equal(later) {
		t.Errorf("Expected last event time %v, got %v", later, session.LastEventTime)
	}

	// Событие, пришедшее не по порядку, не должно откатывать время
	earlier := firstEvent.Add(5 * time.Second)
	session.Touch(earlier)
	if !session.LastEventTime.Equal(later) {
		t.Errorf("Out-of-order event rewound last event time to %v", session.LastEventTime)
	}

	expiresAt := session.ExpiresAt
	session.Touch(firstEvent.Add(50 * time.Second))
	if !session.ExpiresAt.Equal(expiresAt) {
		t.Error("Touch must not move the expiry deadline")
	}
}

func TestSessionEventIDDeduplication(t *testing.T) {
	session := NewSession("rule_1", "key", time.Now(), time.Minute)

	session.RecordEventID("evt_1", 3)
	if !session.HasEventID("evt_1") {
		t.Error("Expected evt_1 to be recorded")
	}
	if session.HasEventID("evt_2") {
		t.Error("Unexpected evt_2 in session")
	}
}

func TestSessionEventIDCapEvictsOldest(t *testing.T) {
	session := NewSession("rule_1", "key", time.Now(), time.Minute)

	session.RecordEventID("evt_1", 2)
	session.RecordEventID("evt_2", 2)
	session.RecordEventID("evt_3", 2)

	if session.HasEventID("evt_1") {
		t.Error("Oldest event ID should have been evicted at capacity")
	}
	if !session.HasEventID("evt_2") || !session.HasEventID("evt_3") {
		t.Error("Recent event IDs should be retained")
	}
	if len(session.EventIDs) != 2 {
		t.Errorf("Expected 2 retained IDs, got %d", len(session.EventIDs))
	}
}

func TestSessionTerminalTransitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		mark   func(*Session)
		status SessionStatus
	}{
		{"alerted", func(s *Session) { s.MarkAlerted("alert_1", now) }, SessionStatusAlertGenerated},
		{"expired", func(s *Session) { s.MarkExpired(now) }, SessionStatusExpired},
		{"evicted", func(s *Session) { s.MarkEvicted(now) }, SessionStatusEvicted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewSession("rule_1", "key", now, time.Minute)
			tt.mark(session)

			if session.Status != tt.status {
				t.Errorf("Expected status %s, got %s", tt.status, session.Status)
			}
			if !session.IsTerminal() {
				t.Error("Expected terminal session")
			}
			if session.IsActive() {
				t.Error("Terminal session must not be active")
			}
			if session.ClosedAt.IsZero() {
				t.Error("Expected ClosedAt to be set")
			}
		})
	}
}

func TestSessionIsExpirable(t *testing.T) {
	firstEvent := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	session := NewSession("rule_1", "key", firstEvent, time.Minute)

	if session.IsExpirable(firstEvent.Add(59 * time.Second)) {
		t.Error("Session should not be expirable before the deadline")
	}
	if !session.IsExpirable(firstEvent.Add(time.Minute)) {
		t.Error("Session should be expirable exactly at the deadline")
	}

	session.MarkAlerted("alert_1", firstEvent)
	if session.IsExpirable(firstEvent.Add(2 * time.Minute)) {
		t.Error("Terminal session must not be expirable")
	}
}

func TestSessionClone(t *testing.T) {
	session := NewSession("rule_1", "key", time.Now(), time.Minute)
	session.RecordEventID("evt_1", 10)
	session.State["qualifying_count"] = 3

	clone := session.Clone()
	clone.RecordEventID("evt_2", 10)
	clone.State["qualifying_count"] = 7

	if session.HasEventID("evt_2") {
		t.Error("Clone mutation leaked into original EventIDs")
	}
	if session.State["qualifying_count"] != 3 {
		t.Error("Clone mutation leaked into original State")
	}
}

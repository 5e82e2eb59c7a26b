// filename: internal/correlator/state/store_test.go
package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ndrsec/ndrsec/internal/models"
)

// newTestStore создает хранилище с заданной емкостью
func newTestStore(maxSessions int) *Store {
	return NewStore(Config{
		MaxActiveSessions: maxSessions,
		TerminalRetention: time.Minute,
	})
}

// makeSession фабрика сессий для GetOrCreate
func makeSession(ruleID, key string, first time.Time) func() *models.Session {
	return func() *models.Session {
		return models.NewSession(ruleID, key, first, time.Minute)
	}
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	store := newTestStore(10)
	now := time.Now()

	h1, created := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", now))
	if !created {
		t.Error("Expected first call to create the session")
	}
	firstID := h1.Session.ID
	h1.Unlock()

	h2, created := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", now))
	if created {
		t.Error("Expected second call to reuse the session")
	}
	if h2.Session.ID != firstID {
		t.Error("Expected the same session instance")
	}
	h2.Unlock()

	if store.ActiveCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", store.ActiveCount())
	}
}

func TestSessionsIsolatedByRuleAndKey(t *testing.T) {
	store := newTestStore(10)
	now := time.Now()

	pairs := []struct{ rule, key string }{
		{"rule_1", "key_a"},
		{"rule_1", "key_b"},
		{"rule_2", "key_a"},
	}
	for _, p := range pairs {
		h, created := store.GetOrCreate(p.rule, p.key, makeSession(p.rule, p.key, now))
		if !created {
			t.Errorf("Expected new session for (%s, %s)", p.rule, p.key)
		}
		h.Unlock()
	}

	if store.ActiveCount() != 3 {
		t.Errorf("Expected 3 isolated sessions, got %d", store.ActiveCount())
	}
}

func TestAcquireMissingReturnsNil(t *testing.T) {
	store := newTestStore(10)
	if h := store.Acquire("rule_1", "missing"); h != nil {
		t.Error("Expected nil handle for unknown session")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	store := newTestStore(2)
	now := time.Now()

	h, _ := store.GetOrCreate("rule_1", "oldest", makeSession("rule_1", "oldest", now))
	oldestID := h.Session.ID
	h.Unlock()
	time.Sleep(2 * time.Millisecond)

	h, _ = store.GetOrCreate("rule_1", "middle", makeSession("rule_1", "middle", now))
	h.Unlock()
	time.Sleep(2 * time.Millisecond)

	// Третья сессия вытесняет самую старую
	h, created := store.GetOrCreate("rule_1", "newest", makeSession("rule_1", "newest", now))
	if !created {
		t.Error("Expected new session at capacity")
	}
	h.Unlock()

	if store.ActiveCount() != 2 {
		t.Errorf("Expected 2 active sessions, got %d", store.ActiveCount())
	}
	if store.EvictedTotal() != 1 {
		t.Errorf("Expected 1 eviction, got %d", store.EvictedTotal())
	}
	if h := store.Acquire("rule_1", "oldest"); h != nil {
		h.Unlock()
		t.Error("Oldest session should have been evicted")
	}

	// Вытесненная сессия удерживается в терминальной зоне со статусом evicted
	closed := store.GetClosed("rule_1", "oldest")
	if closed == nil {
		t.Fatal("Expected evicted session in retention zone")
	}
	if closed.ID != oldestID || closed.Status != models.SessionStatusEvicted {
		t.Errorf("Unexpected retained session: id=%s status=%s", closed.ID, closed.Status)
	}
}

func TestExpireIfDue(t *testing.T) {
	store := newTestStore(10)
	first := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	h, _ := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", first))
	h.Unlock()

	// До дедлайна истечение не происходит
	if closed := store.ExpireIfDue("rule_1", "key_a", first.Add(30*time.Second)); closed != nil {
		t.Error("Session expired before its deadline")
	}

	closed := store.ExpireIfDue("rule_1", "key_a", first.Add(time.Minute))
	if closed == nil {
		t.Fatal("Expected session to expire at the deadline")
	}
	if closed.Status != models.SessionStatusExpired {
		t.Errorf("Expected expired status, got %s", closed.Status)
	}
	if store.ActiveCount() != 0 {
		t.Errorf("Expected empty active index, got %d", store.ActiveCount())
	}

	// Повторное истечение ничего не возвращает
	if again := store.ExpireIfDue("rule_1", "key_a", first.Add(2*time.Minute)); again != nil {
		t.Error("Second expiry attempt must be a no-op")
	}
}

func TestExpireSkipsSessionWithConditionMet(t *testing.T) {
	store := newTestStore(10)
	first := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	h, _ := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", first))
	h.Session.ConditionMet = true
	h.Unlock()

	// Путь алерта выигрывает гонку с планировщиком
	if closed := store.ExpireIfDue("rule_1", "key_a", first.Add(2*time.Minute)); closed != nil {
		t.Error("Expiry must not close a session whose condition is met")
	}
}

func TestRetireMovesTerminalToRetention(t *testing.T) {
	store := newTestStore(10)
	now := time.Now()

	h, _ := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", now))
	h.Session.MarkAlerted("alert_1", now)
	h.Unlock()

	store.Retire("rule_1", "key_a")

	if store.ActiveCount() != 0 {
		t.Errorf("Expected empty active index after retire, got %d", store.ActiveCount())
	}
	closed := store.GetClosed("rule_1", "key_a")
	if closed == nil || closed.AlertID != "alert_1" {
		t.Error("Expected retired session in retention zone")
	}

	// Retire не трогает активные сессии
	h, _ = store.GetOrCreate("rule_2", "key_b", makeSession("rule_2", "key_b", now))
	h.Unlock()
	store.Retire("rule_2", "key_b")
	if store.ActiveCount() != 1 {
		t.Error("Retire must not remove active sessions")
	}
}

func TestPurgeTerminal(t *testing.T) {
	store := newTestStore(10)
	now := time.Now()

	h, _ := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", now))
	h.Session.MarkAlerted("alert_1", now)
	h.Unlock()
	store.Retire("rule_1", "key_a")

	// Внутри срока хранения запись остается
	if purged := store.PurgeTerminal(now.Add(30 * time.Second)); purged != 0 {
		t.Errorf("Expected no purge within retention, got %d", purged)
	}

	if purged := store.PurgeTerminal(now.Add(2 * time.Minute)); purged != 1 {
		t.Errorf("Expected 1 purged session, got %d", purged)
	}
	if store.GetClosed("rule_1", "key_a") != nil {
		t.Error("Expected retention zone to be empty after purge")
	}
}

func TestListExpirable(t *testing.T) {
	store := newTestStore(10)
	first := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	h, _ := store.GetOrCreate("rule_1", "due", makeSession("rule_1", "due", first))
	h.Unlock()
	h, _ = store.GetOrCreate("rule_1", "fresh", makeSession("rule_1", "fresh", first.Add(50*time.Second)))
	h.Unlock()

	refs := store.ListExpirable(first.Add(time.Minute))
	if len(refs) != 1 {
		t.Fatalf("Expected 1 expirable session, got %d", len(refs))
	}
	if refs[0].RuleID != "rule_1" || refs[0].Key != "due" {
		t.Errorf("Unexpected expirable ref: %+v", refs[0])
	}
}

func TestActiveRuleIDs(t *testing.T) {
	store := newTestStore(10)
	now := time.Now()

	for _, rule := range []string{"rule_1", "rule_1", "rule_2"} {
		h, _ := store.GetOrCreate(rule, fmt.Sprintf("key_%d", store.ActiveCount()), makeSession(rule, "key", now))
		h.Unlock()
	}

	ids := store.ActiveRuleIDs()
	if !ids["rule_1"] || !ids["rule_2"] || len(ids) != 2 {
		t.Errorf("Unexpected active rule set: %v", ids)
	}
}

func TestConcurrentGetOrCreateSingleSession(t *testing.T) {
	store := newTestStore(100)
	now := time.Now()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, created := store.GetOrCreate("rule_1", "shared", makeSession("rule_1", "shared", now))
			h.Session.EventCount++
			h.Unlock()
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	created := 0
	for c := range createdCount {
		if c {
			created++
		}
	}
	if created != 1 {
		t.Errorf("Expected exactly one creation, got %d", created)
	}

	h := store.Acquire("rule_1", "shared")
	if h == nil {
		t.Fatal("Expected session to exist")
	}
	if h.Session.EventCount != 50 {
		t.Errorf("Expected 50 folded events, got %d", h.Session.EventCount)
	}
	h.Unlock()
}

func TestSnapshotActiveClonesSessions(t *testing.T) {
	store := newTestStore(10)
	now := time.Now()

	h, _ := store.GetOrCreate("rule_1", "key_a", makeSession("rule_1", "key_a", now))
	h.Session.EventCount = 2
	h.Unlock()

	// Терминальная сессия не попадает в снимок
	h, _ = store.GetOrCreate("rule_1", "key_b", makeSession("rule_1", "key_b", now))
	h.Session.MarkAlerted("alert_1", now)
	h.Unlock()

	snapshots := store.SnapshotActive()
	if len(snapshots) != 1 {
		t.Fatalf("Expected 1 active snapshot, got %d", len(snapshots))
	}
	if snapshots[0].CorrelationKey != "key_a" || snapshots[0].EventCount != 2 {
		t.Errorf("Unexpected snapshot: %s count %d", snapshots[0].CorrelationKey, snapshots[0].EventCount)
	}

	// Снимок является копией: мутация не видна живой сессии
	snapshots[0].EventCount = 99
	h = store.Acquire("rule_1", "key_a")
	count := h.Session.EventCount
	h.Unlock()
	if count != 2 {
		t.Errorf("Snapshot mutation must not leak into the store, got %d", count)
	}
}

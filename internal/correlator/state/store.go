// filename: internal/correlator/state/store.go
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndrsec/ndrsec/internal/models"
)

// Config конфигурация хранилища сессий
type Config struct {
	MaxActiveSessions int
	TerminalRetention time.Duration
}

// Ref идентифицирует сессию по правилу и ключу корреляции
type Ref struct {
	RuleID string
	Key    string
}

// entry держит одну сессию и ее пер-ключевую блокировку.
// createdAt неизменяемо после создания и используется для выбора
// жертвы при вытеснении без захвата пер-ключевой блокировки.
type entry struct {
	mu        sync.Mutex
	session   *models.Session
	createdAt time.Time
	removed   bool
}

// Handle представляет заблокированную сессию. Все мутации сессии
// выполняются только через Handle, это сериализует доступ по ключу.
type Handle struct {
	Session *models.Session
	entry   *entry
}

// Unlock освобождает пер-ключевую блокировку // v1.0
func (h *Handle) Unlock() {
	h.entry.mu.Unlock()
}

// Store хранилище активных сессий с ограничением емкости.
// Активные сессии лежат в sessions, терминальные удерживаются в closed
// до истечения срока хранения для аудита и статистики.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	closedMu sync.Mutex
	closed   map[string]*models.Session

	config       Config
	evictedTotal atomic.Int64
	createdTotal atomic.Int64
}

// NewStore создает новое хранилище сессий // v1.0
func NewStore(config Config) *Store {
	if config.MaxActiveSessions <= 0 {
		config.MaxActiveSessions = 100000
	}
	if config.TerminalRetention <= 0 {
		config.TerminalRetention = 5 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*entry),
		closed:   make(map[string]*models.Session),
		config:   config,
	}
}

// makeKey создает ключ хранилища // v1.0
func makeKey(ruleID, correlationKey string) string {
	return ruleID + "\x00" + correlationKey
}

// GetOrCreate возвращает заблокированную активную сессию для пары
// (правило, ключ), создавая ее через create при отсутствии. Второе
// значение сообщает, была ли сессия создана. При переполнении емкости
// вытесняется самая старая активная сессия среди всех правил.
func (s *Store) GetOrCreate(ruleID, correlationKey string, create func() *models.Session) (*Handle, bool) {
	key := makeKey(ruleID, correlationKey)

	for {
		s.mu.Lock()
		e, exists := s.sessions[key]
		var victim *entry
		if !exists {
			if len(s.sessions) >= s.config.MaxActiveSessions {
				victim = s.pickOldestLocked()
				if victim != nil {
					s.deleteEntryLocked(victim)
				}
			}
			e = &entry{createdAt: time.Now()}
			s.sessions[key] = e
		}
		s.mu.Unlock()

		if victim != nil {
			s.finishEviction(victim)
		}

		e.mu.Lock()
		if e.removed {
			// Запись успели вытеснить или закрыть, пробуем заново
			e.mu.Unlock()
			continue
		}
		created := false
		if e.session == nil {
			e.session = create()
			created = true
			s.createdTotal.Add(1)
		}
		return &Handle{Session: e.session, entry: e}, created
	}
}

// Acquire возвращает заблокированную существующую сессию или nil // v1.0
func (s *Store) Acquire(ruleID, correlationKey string) *Handle {
	key := makeKey(ruleID, correlationKey)

	s.mu.RLock()
	e, exists := s.sessions[key]
	s.mu.RUnlock()
	if !exists {
		return nil
	}

	e.mu.Lock()
	if e.removed || e.session == nil {
		e.mu.Unlock()
		return nil
	}
	return &Handle{Session: e.session, entry: e}
}

// Retire переводит терминальную сессию из активного индекса в зону хранения.
// Вызывается после освобождения Handle, когда сессия помечена терминальной.
func (s *Store) Retire(ruleID, correlationKey string) {
	key := makeKey(ruleID, correlationKey)

	s.mu.Lock()
	e, exists := s.sessions[key]
	if !exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	e.mu.Lock()
	if e.removed || e.session == nil || !e.session.IsTerminal() {
		e.mu.Unlock()
		return
	}
	session := e.session
	e.removed = true
	e.mu.Unlock()

	s.mu.Lock()
	if current, ok := s.sessions[key]; ok && current == e {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	s.keepClosed(key, session)
}

// Remove удаляет сессию без сохранения в зоне хранения // v1.0
func (s *Store) Remove(ruleID, correlationKey string) {
	key := makeKey(ruleID, correlationKey)

	s.mu.Lock()
	e, exists := s.sessions[key]
	if exists {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	if exists {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

// ListExpirable возвращает ссылки на активные сессии с истекшим окном // v1.0
func (s *Store) ListExpirable(now time.Time) []Ref {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var refs []Ref
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && e.session != nil && e.session.IsExpirable(now) {
			refs = append(refs, Ref{RuleID: e.session.RuleID, Key: e.session.CorrelationKey})
		}
		e.mu.Unlock()
	}
	return refs
}

// ExpireIfDue атомарно истекает сессию, если она все еще активна, окно
// истекло и условие не выполнено. Путь алерта выигрывает гонку: если
// условие успело выполниться под пер-ключевой блокировкой, истечение
// пропускается. Возвращает закрытую сессию или nil.
func (s *Store) ExpireIfDue(ruleID, correlationKey string, now time.Time) *models.Session {
	key := makeKey(ruleID, correlationKey)

	s.mu.RLock()
	e, exists := s.sessions[key]
	s.mu.RUnlock()
	if !exists {
		return nil
	}

	e.mu.Lock()
	if e.removed || e.session == nil || !e.session.IsExpirable(now) || e.session.ConditionMet {
		e.mu.Unlock()
		return nil
	}
	session := e.session
	session.MarkExpired(now)
	e.removed = true
	e.mu.Unlock()

	s.mu.Lock()
	if current, ok := s.sessions[key]; ok && current == e {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	s.keepClosed(key, session)
	return session
}

// PurgeTerminal удаляет терминальные сессии старше срока хранения // v1.0
func (s *Store) PurgeTerminal(now time.Time) int {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()

	purged := 0
	for key, session := range s.closed {
		if now.Sub(session.ClosedAt) >= s.config.TerminalRetention {
			delete(s.closed, key)
			purged++
		}
	}
	return purged
}

// GetClosed возвращает удерживаемую терминальную сессию // v1.0
func (s *Store) GetClosed(ruleID, correlationKey string) *models.Session {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed[makeKey(ruleID, correlationKey)]
}

// ActiveCount возвращает количество активных сессий // v1.0
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveRuleIDs возвращает множество правил с открытыми сессиями // v1.0
func (s *Store) ActiveRuleIDs() map[string]bool {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	ids := make(map[string]bool)
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && e.session != nil {
			ids[e.session.RuleID] = true
		}
		e.mu.Unlock()
	}
	return ids
}

// SnapshotActive возвращает копии всех активных сессий для снимка // v1.0
func (s *Store) SnapshotActive() []*models.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	snapshots := make([]*models.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && e.session != nil && e.session.IsActive() {
			snapshots = append(snapshots, e.session.Clone())
		}
		e.mu.Unlock()
	}
	return snapshots
}

// EvictedTotal возвращает количество принудительных вытеснений // v1.0
func (s *Store) EvictedTotal() int64 {
	return s.evictedTotal.Load()
}

// GetStats возвращает статистику хранилища // v1.0
func (s *Store) GetStats() map[string]interface{} {
	s.mu.RLock()
	active := len(s.sessions)
	s.mu.RUnlock()

	s.closedMu.Lock()
	retained := len(s.closed)
	s.closedMu.Unlock()

	return map[string]interface{}{
		"active_sessions":   active,
		"retained_sessions": retained,
		"created_total":     s.createdTotal.Load(),
		"evicted_total":     s.evictedTotal.Load(),
		"max_sessions":      s.config.MaxActiveSessions,
	}
}

// pickOldestLocked выбирает самую старую активную сессию; вызывается под s.mu // v1.0
func (s *Store) pickOldestLocked() *entry {
	var oldest *entry
	for _, e := range s.sessions {
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	return oldest
}

// deleteEntryLocked удаляет запись из активного индекса; вызывается под s.mu // v1.0
func (s *Store) deleteEntryLocked(victim *entry) {
	for key, e := range s.sessions {
		if e == victim {
			delete(s.sessions, key)
			return
		}
	}
}

// finishEviction помечает вытесненную сессию без проверки условия.
// Это клапан обратного давления, наблюдаемый через счетчик, а не
// тихая потеря данных.
func (s *Store) finishEviction(victim *entry) {
	victim.mu.Lock()
	victim.removed = true
	session := victim.session
	if session != nil && session.IsActive() {
		session.MarkEvicted(time.Now())
	}
	victim.mu.Unlock()

	s.evictedTotal.Add(1)
	if session != nil {
		s.keepClosed(makeKey(session.RuleID, session.CorrelationKey), session)
	}
}

// keepClosed сохраняет терминальную сессию в зоне хранения // v1.0
func (s *Store) keepClosed(key string, session *models.Session) {
	s.closedMu.Lock()
	s.closed[key] = session
	s.closedMu.Unlock()
}

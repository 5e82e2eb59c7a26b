// filename: internal/correlator/scheduler.go
package correlator

import (
	"sync"
	"time"

	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator/state"
)

// Scheduler закрывает сессии с истекшим окном и чистит служебные
// структуры движка по таймеру. Точность истечения ограничена
// интервалом тика.
type Scheduler struct {
	interval time.Duration
	engine   *Engine
	store    *state.Store
	logger   *logging.Logger

	// memStore не nil только при подавлении в памяти, требующей чистки
	memStore *MemorySuppressionStore

	// prevEvicted последнее увиденное значение счетчика вытеснений хранилища
	prevEvicted int64

	// snapshotInterval задает частоту снимков активных сессий в аудит
	snapshotInterval time.Duration
	lastSnapshot     time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler создает планировщик истечения окон // v1.0
func NewScheduler(interval, snapshotInterval time.Duration, engine *Engine, store *state.Store, memStore *MemorySuppressionStore, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if snapshotInterval <= 0 {
		snapshotInterval = 30 * time.Second
	}
	return &Scheduler{
		interval:         interval,
		engine:           engine,
		store:            store,
		memStore:         memStore,
		logger:           logger,
		snapshotInterval: snapshotInterval,
		stopChan:         make(chan struct{}),
	}
}

// Start запускает цикл планировщика // v1.0
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.WithField("interval", s.interval.String()).Info("Expiry scheduler started")
}

// Stop останавливает планировщик // v1.0
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Expiry scheduler stopped")
}

// run исполняет тики до останова // v1.0
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

// Tick выполняет один проход обслуживания. Вынесен отдельно,
// чтобы истечение можно было прогнать детерминированно.
func (s *Scheduler) Tick(now time.Time) {
	expired := 0
	for _, ref := range s.store.ListExpirable(now) {
		rule, ok := s.engine.registry.Get(ref.RuleID)
		if !ok {
			// Правило исчезло вместе с дорабатывающим индексом,
			// сессию все равно закрываем
			if closed := s.store.ExpireIfDue(ref.RuleID, ref.Key, now); closed != nil {
				expired++
				if s.engine.metrics != nil {
					s.engine.metrics.SessionsExpired.Inc()
				}
				if s.engine.audit != nil {
					s.engine.audit.Write(closed)
				}
			}
			continue
		}
		if closed := s.store.ExpireIfDue(ref.RuleID, ref.Key, now); closed != nil {
			expired++
			s.engine.finishExpiry(rule, closed)
		}
	}

	purged := s.store.PurgeTerminal(now)
	s.engine.registry.PruneDraining(s.store.ActiveRuleIDs())

	if s.memStore != nil {
		s.memStore.Purge(now)
	}

	// Периодический снимок активных сессий для восстановления после рестарта
	if s.engine.audit != nil && now.Sub(s.lastSnapshot) >= s.snapshotInterval {
		s.engine.SnapshotSessions()
		s.lastSnapshot = now
	}

	if s.engine.metrics != nil {
		s.engine.metrics.ActiveSessions.Set(float64(s.store.ActiveCount()))
		if evicted := s.store.EvictedTotal(); evicted > s.prevEvicted {
			s.engine.metrics.SessionsEvicted.Add(float64(evicted - s.prevEvicted))
			s.prevEvicted = evicted
		}
	}

	if expired > 0 || purged > 0 {
		s.logger.WithField("expired", expired).
			WithField("purged", purged).
			Debug("Scheduler tick completed")
	}
}

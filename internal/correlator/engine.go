// filename: internal/correlator/engine.go
package correlator

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ndrsec/ndrsec/internal/common/config"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
	"github.com/ndrsec/ndrsec/internal/correlator/state"
	"github.com/ndrsec/ndrsec/internal/models"
)

// task единица работы: событие, отнесенное к правилу и ключу корреляции
type task struct {
	rule  *dsl.CompiledRule
	key   string
	event *models.Event
	// drainOnly запрещает открывать новую сессию: правило отключено
	// и дорабатывает уже открытые
	drainOnly bool
}

// Engine движок корреляции: классифицирует события, сворачивает их
// в сессии и порождает оповещения. События одного ключа корреляции
// всегда обрабатываются одним воркером, что дает упорядоченность
// на ключ без глобальной блокировки.
type Engine struct {
	config     config.EngineConfig
	logger     *logging.Logger
	registry   *Registry
	store      *state.Store
	suppressor *Suppressor
	emitter    *Emitter
	metrics    *Metrics
	audit      *AuditWriter

	shards   []chan task
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewEngine создает движок корреляции // v1.0
func NewEngine(
	cfg config.EngineConfig,
	logger *logging.Logger,
	registry *Registry,
	store *state.Store,
	suppressor *Suppressor,
	emitter *Emitter,
	metrics *Metrics,
	audit *AuditWriter,
) *Engine {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	shardBuffer := cfg.EventBufferSize / workers
	if shardBuffer <= 0 {
		shardBuffer = 256
	}

	shards := make([]chan task, workers)
	for i := range shards {
		shards[i] = make(chan task, shardBuffer)
	}

	return &Engine{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		store:      store,
		suppressor: suppressor,
		emitter:    emitter,
		metrics:    metrics,
		audit:      audit,
		shards:     shards,
		stopChan:   make(chan struct{}),
	}
}

// Start запускает воркеры движка // v1.0
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	for i := range e.shards {
		e.wg.Add(1)
		go e.worker(e.shards[i])
	}
	e.logger.WithField("workers", len(e.shards)).Info("Correlation engine started")
}

// Stop останавливает воркеры, дорабатывая очереди шардов // v1.0
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()

	// Прощальный снимок активных сессий: следующий запуск продолжит
	// их окна через RestoreSessions
	if n := e.SnapshotSessions(); n > 0 {
		e.logger.WithField("sessions", n).Info("Active sessions snapshotted for restart")
	}
	e.logger.Info("Correlation engine stopped")
}

// SnapshotSessions пишет снимки всех активных сессий в аудит.
// Вызывается планировщиком по таймеру и движком при останове.
func (e *Engine) SnapshotSessions() int {
	if e.audit == nil {
		return 0
	}
	snapshots := e.store.SnapshotActive()
	for _, snapshot := range snapshots {
		e.audit.Write(snapshot)
	}
	return len(snapshots)
}

// SubmitEvent классифицирует событие и раскладывает задачи по шардам.
// Вызывается из обработчика подписки NATS.
func (e *Engine) SubmitEvent(event *models.Event) {
	if e.metrics != nil {
		e.metrics.EventsReceived.Inc()
	}

	for _, compiled := range e.registry.GetRulesForEventType(event.Type) {
		if !compiled.Matcher.Match(event) {
			continue
		}
		e.dispatch(task{
			rule:  compiled,
			key:   compiled.Rule.CorrelationKeyFor(event),
			event: event,
		})
	}

	// Отключенные правила дорабатывают уже открытые сессии
	for _, compiled := range e.registry.GetDrainingForEventType(event.Type) {
		if !compiled.Matcher.Match(event) {
			continue
		}
		e.dispatch(task{
			rule:      compiled,
			key:       compiled.Rule.CorrelationKeyFor(event),
			event:     event,
			drainOnly: true,
		})
	}
}

// dispatch направляет задачу в шард ее ключа корреляции // v1.0
func (e *Engine) dispatch(t task) {
	h := fnv.New32a()
	h.Write([]byte(t.rule.Rule.ID))
	h.Write([]byte{0})
	h.Write([]byte(t.key))
	shard := e.shards[h.Sum32()%uint32(len(e.shards))]

	select {
	case shard <- t:
	default:
		if e.metrics != nil {
			e.metrics.EventsDropped.Inc()
		}
		e.logger.WithRule(t.rule.Rule.ID, t.rule.Rule.Name).
			WithField("correlation_key", t.key).
			Warn("Shard queue full, event dropped")
	}
}

// worker обрабатывает задачи одного шарда // v1.0
func (e *Engine) worker(tasks chan task) {
	defer e.wg.Done()

	for {
		select {
		case t := <-tasks:
			e.processTask(t)
		case <-e.stopChan:
			for {
				select {
				case t := <-tasks:
					e.processTask(t)
				default:
					return
				}
			}
		}
	}
}

// processTask сворачивает событие в сессию правила // v1.0
func (e *Engine) processTask(t task) {
	start := time.Now()
	rule := t.rule

	for attempt := 0; attempt < 3; attempt++ {
		var h *state.Handle
		var created bool

		if t.drainOnly {
			h = e.store.Acquire(rule.Rule.ID, t.key)
			if h == nil {
				return
			}
		} else {
			h, created = e.store.GetOrCreate(rule.Rule.ID, t.key, func() *models.Session {
				return models.NewSession(rule.Rule.ID, t.key, t.event.TS, rule.Rule.Window.Std())
			})
		}
		session := h.Session

		// Терминальная сессия еще не убрана из индекса: убираем и пробуем снова
		if session.IsTerminal() {
			h.Unlock()
			e.store.Retire(rule.Rule.ID, t.key)
			if t.drainOnly {
				return
			}
			continue
		}

		// Окно сессии истекло по часам потока событий: закрываем ее
		// и открываем новую для этого события
		if !created && session.IsExpirable(t.event.TS) {
			h.Unlock()
			if closed := e.store.ExpireIfDue(rule.Rule.ID, t.key, t.event.TS); closed != nil {
				e.finishExpiry(rule, closed)
			}
			if t.drainOnly {
				return
			}
			continue
		}

		if created && e.metrics != nil {
			e.metrics.SessionsCreated.Inc()
		}

		met, folded, err := rule.Fold(session, t.event, e.config.EventIDsCap)
		if err != nil {
			h.Unlock()
			if e.metrics != nil {
				e.metrics.EvaluationErrors.Inc()
			}
			e.registry.MarkEvaluationError(rule, err)
			return
		}

		// Повторная доставка не двигает статистику совпадений
		if folded {
			rule.Stats.RecordMatch(t.event.TS)
			if e.metrics != nil {
				e.metrics.EventsMatched.Inc()
			}
		}

		var alert *models.Alert
		if met {
			now := time.Now()
			if e.suppressor.ShouldEmit(context.Background(), rule.Rule, t.key, now) {
				alert = e.emitter.BuildAlert(rule.Rule, session, t.event)
				session.MarkAlerted(alert.ID, now)
				rule.Stats.RecordAlert()
				if e.metrics != nil {
					e.metrics.SessionsAlerted.Inc()
				}
			} else {
				// Подавленная сессия закрывается так же, но без оповещения
				session.MarkAlerted("", now)
				rule.Stats.RecordSuppressed()
				if e.metrics != nil {
					e.metrics.SessionsAlerted.Inc()
					e.metrics.AlertsSuppressed.Inc()
				}
			}
		}

		terminal := session.IsTerminal()
		h.Unlock()

		if terminal {
			e.store.Retire(rule.Rule.ID, t.key)
			if e.audit != nil {
				e.audit.Write(session)
			}
		}

		if alert != nil {
			e.logger.WithSession(session.ID, rule.Rule.ID, t.key).
				WithField("alert_id", alert.ID).
				WithField("event_count", session.EventCount).
				Info("Correlation condition met, alert generated")
			e.emitter.Enqueue(alert)
		}

		elapsed := time.Since(start)
		rule.Stats.RecordProcessingTime(elapsed)
		if e.metrics != nil {
			e.metrics.EvaluationSeconds.WithLabelValues(rule.Rule.ID).Observe(elapsed.Seconds())
		}
		return
	}
}

// finishExpiry фиксирует закрытие сессии по истечению окна // v1.0
func (e *Engine) finishExpiry(rule *dsl.CompiledRule, closed *models.Session) {
	rule.Stats.RecordExpired()
	if e.metrics != nil {
		e.metrics.SessionsExpired.Inc()
	}
	if e.audit != nil {
		e.audit.Write(closed)
	}
	e.logger.WithSession(closed.ID, closed.RuleID, closed.CorrelationKey).
		WithField("event_count", closed.EventCount).
		Debug("Session expired without meeting the condition")
}

// RestoreSessions восстанавливает активные сессии из снимков аудита
// после рестарта. Записи идут от новых к старым: первая запись пары
// (правило, ключ) решает ее судьбу, терминальная означает, что сессия
// успела завершиться после снимка. Восстановление по лучшим усилиям.
func (e *Engine) RestoreSessions(ctx context.Context, since time.Time, limit int) int {
	if e.audit == nil {
		return 0
	}

	sessions, err := e.audit.RestoreRecent(ctx, since, limit)
	if err != nil {
		e.logger.WithError(err).Warn("Session restore failed, starting with empty state")
		return 0
	}

	restored := 0
	seen := make(map[string]bool)
	for _, snapshot := range sessions {
		pair := snapshot.RuleID + "\x00" + snapshot.CorrelationKey
		if seen[pair] {
			continue
		}
		seen[pair] = true

		if !snapshot.IsActive() {
			continue
		}
		if _, ok := e.registry.Get(snapshot.RuleID); !ok {
			continue
		}
		restore := snapshot
		h, created := e.store.GetOrCreate(restore.RuleID, restore.CorrelationKey, func() *models.Session {
			return restore.Clone()
		})
		h.Unlock()
		if created {
			restored++
		}
	}

	if restored > 0 {
		e.logger.WithField("sessions", restored).Info("Restored active sessions from audit log")
	}
	return restored
}

// GetStats возвращает статистику движка // v1.0
func (e *Engine) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"store":    e.store.GetStats(),
		"registry": e.registry.GetStats(),
		"emitter":  e.emitter.GetStats(),
		"workers":  len(e.shards),
	}
	if e.audit != nil {
		stats["audit"] = e.audit.GetStats()
	}
	pending := 0
	for _, shard := range e.shards {
		pending += len(shard)
	}
	stats["pending_tasks"] = pending
	stats["suppressed_total"] = e.suppressor.SuppressedTotal()
	return stats
}

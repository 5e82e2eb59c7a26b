// filename: internal/correlator/registry.go
package correlator

import (
	"sync"
	"sync/atomic"

	"github.com/ndrsec/ndrsec/internal/common/errors"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
	"github.com/ndrsec/ndrsec/internal/models"
)

// registrySnapshot неизменяемый срез правил, заменяется целиком при перезагрузке
type registrySnapshot struct {
	byID map[string]*dsl.CompiledRule
	// byType индексирует включенные правила по типу события
	byType map[string][]*dsl.CompiledRule
	// draining правила, отключенные после того как могли открыть сессии;
	// новые сессии для них не создаются, открытые дорабатывают свое окно
	draining map[string][]*dsl.CompiledRule
}

func emptySnapshot() *registrySnapshot {
	return &registrySnapshot{
		byID:     make(map[string]*dsl.CompiledRule),
		byType:   make(map[string][]*dsl.CompiledRule),
		draining: make(map[string][]*dsl.CompiledRule),
	}
}

// Registry реестр правил корреляции с атомарной заменой снимка.
// Чтения идут без блокировок через atomic.Value, перезагрузки
// сериализуются мьютексом.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Value
	compiler *dsl.Compiler
	logger   *logging.Logger

	// Статистика правил переживает перезагрузки и смены версий
	stats map[string]*models.RuleStats
	// Правила, отключенные автоматически из-за превышения бюджета ошибок
	autoDisabled map[string]bool
	errorBudget  int64
}

// NewRegistry создает новый реестр правил // v1.0
func NewRegistry(logger *logging.Logger, errorBudget int64) *Registry {
	if errorBudget <= 0 {
		errorBudget = 25
	}
	r := &Registry{
		compiler:     dsl.NewCompiler(),
		logger:       logger,
		stats:        make(map[string]*models.RuleStats),
		autoDisabled: make(map[string]bool),
		errorBudget:  errorBudget,
	}
	r.snapshot.Store(emptySnapshot())
	return r
}

// current возвращает текущий снимок // v1.0
func (r *Registry) current() *registrySnapshot {
	return r.snapshot.Load().(*registrySnapshot)
}

// Reload атомарно заменяет набор правил. Любая ошибка компиляции
// отклоняет перезагрузку целиком, старый снимок остается активным.
func (r *Registry) Reload(rules []*models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	old := r.current()

	for _, rule := range rules {
		parsed, err := dsl.ParseRule([]byte(rule.YAML))
		if err != nil {
			return errors.Wrap(err, errors.ErrorCodeRuleConfig, "reload rejected").
				AddDetail("rule_id", rule.ID)
		}
		compiled, err := r.compileLocked(parsed, rule.Version)
		if err != nil {
			return errors.Wrap(err, errors.ErrorCodeRuleConfig, "reload rejected").
				AddDetail("rule_id", rule.ID)
		}
		enabled := rule.Enabled && parsed.Enabled && !r.autoDisabled[parsed.ID]
		r.installLocked(next, compiled, enabled)
	}

	// Правила, пропавшие или выключенные относительно старого снимка,
	// продолжают дорабатывать открытые сессии
	for id, compiled := range old.byID {
		if _, stillEnabled := next.byID[id]; !stillEnabled {
			r.addDraining(next, compiled)
		}
	}
	for _, drainingRules := range old.draining {
		for _, compiled := range drainingRules {
			if _, stillEnabled := next.byID[compiled.Rule.ID]; !stillEnabled {
				r.addDraining(next, compiled)
			}
		}
	}

	r.snapshot.Store(next)
	r.logger.Logger.WithField("rules", len(next.byID)).Info("Rule registry reloaded")
	return nil
}

// Upsert добавляет или заменяет одно правило // v1.0
func (r *Registry) Upsert(rule *models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	parsed, err := dsl.ParseRule([]byte(rule.YAML))
	if err != nil {
		return errors.Wrap(err, errors.ErrorCodeRuleConfig, "upsert rejected").
			AddDetail("rule_id", rule.ID)
	}
	compiled, err := r.compileLocked(parsed, rule.Version)
	if err != nil {
		return errors.Wrap(err, errors.ErrorCodeRuleConfig, "upsert rejected").
			AddDetail("rule_id", rule.ID)
	}

	// Ручное обновление правила сбрасывает автоотключение вместе
	// с накопленными ошибками, иначе первая же новая ошибка снова
	// исчерпает бюджет
	delete(r.autoDisabled, parsed.ID)
	if stats, exists := r.stats[parsed.ID]; exists {
		stats.ResetErrors()
	}

	next := r.copySnapshotWithout(parsed.ID)
	enabled := rule.Enabled && parsed.Enabled
	r.installLocked(next, compiled, enabled)
	if !enabled {
		r.addDraining(next, compiled)
	}

	r.snapshot.Store(next)
	r.logger.WithRule(parsed.ID, parsed.Name).Info("Rule upserted")
	return nil
}

// Disable отключает правило. Открытые сессии правила дорабатывают
// свое окно против снимка, действовавшего при их создании.
func (r *Registry) Disable(ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current()
	compiled, exists := old.byID[ruleID]
	if !exists {
		return errors.NotFoundError("rule", ruleID)
	}

	next := r.copySnapshotWithout(ruleID)
	r.addDraining(next, compiled)
	r.snapshot.Store(next)

	r.logger.WithRule(ruleID, compiled.Rule.Name).Info("Rule disabled")
	return nil
}

// Get возвращает скомпилированное правило по ID // v1.0
func (r *Registry) Get(ruleID string) (*dsl.CompiledRule, bool) {
	snap := r.current()
	if compiled, ok := snap.byID[ruleID]; ok {
		return compiled, true
	}
	for _, drainingRules := range snap.draining {
		for _, compiled := range drainingRules {
			if compiled.Rule.ID == ruleID {
				return compiled, true
			}
		}
	}
	return nil, false
}

// GetRulesForEventType возвращает включенные правила, подписанные на тип события // v1.0
func (r *Registry) GetRulesForEventType(eventType string) []*dsl.CompiledRule {
	return r.current().byType[eventType]
}

// GetDrainingForEventType возвращает отключенные правила с возможными
// открытыми сессиями для типа события // v1.0
func (r *Registry) GetDrainingForEventType(eventType string) []*dsl.CompiledRule {
	return r.current().draining[eventType]
}

// MarkEvaluationError фиксирует ошибку оценки правила. При превышении
// бюджета ошибок правило отключается автоматически.
func (r *Registry) MarkEvaluationError(compiled *dsl.CompiledRule, evalErr error) {
	count := compiled.Stats.RecordError()

	r.logger.WithRule(compiled.Rule.ID, compiled.Rule.Name).
		WithError(evalErr).
		WithField("error_count", count).
		Warn("Rule evaluation failed, skipping event for this rule")

	if count < r.errorBudget {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.autoDisabled[compiled.Rule.ID] {
		return
	}
	r.autoDisabled[compiled.Rule.ID] = true

	old := r.current()
	if existing, ok := old.byID[compiled.Rule.ID]; ok {
		next := r.copySnapshotWithout(compiled.Rule.ID)
		r.addDraining(next, existing)
		r.snapshot.Store(next)
	}

	r.logger.WithRule(compiled.Rule.ID, compiled.Rule.Name).
		WithField("error_budget", r.errorBudget).
		Error("Rule disabled automatically after exceeding error budget")
}

// PruneDraining убирает дорабатывающие правила без активных сессий // v1.0
func (r *Registry) PruneDraining(activeRuleIDs map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current()
	needPrune := false
	for _, drainingRules := range old.draining {
		for _, compiled := range drainingRules {
			if !activeRuleIDs[compiled.Rule.ID] {
				needPrune = true
			}
		}
	}
	if !needPrune {
		return
	}

	next := emptySnapshot()
	next.byID = old.byID
	next.byType = old.byType
	for eventType, drainingRules := range old.draining {
		for _, compiled := range drainingRules {
			if activeRuleIDs[compiled.Rule.ID] {
				next.draining[eventType] = append(next.draining[eventType], compiled)
			}
		}
	}
	r.snapshot.Store(next)
}

// RuleIDs возвращает список включенных правил // v1.0
func (r *Registry) RuleIDs() []string {
	snap := r.current()
	ids := make([]string, 0, len(snap.byID))
	for id := range snap.byID {
		ids = append(ids, id)
	}
	return ids
}

// RuleStatsSnapshot возвращает копию статистики правил // v1.0
func (r *Registry) RuleStatsSnapshot() map[string]models.RuleStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]models.RuleStats, len(r.stats))
	for id, stats := range r.stats {
		out[id] = stats.Snapshot()
	}
	return out
}

// GetStats возвращает статистику реестра // v1.0
func (r *Registry) GetStats() map[string]interface{} {
	snap := r.current()

	r.mu.Lock()
	autoDisabled := len(r.autoDisabled)
	r.mu.Unlock()

	drainingCount := 0
	seen := make(map[string]bool)
	for _, drainingRules := range snap.draining {
		for _, compiled := range drainingRules {
			if !seen[compiled.Rule.ID] {
				seen[compiled.Rule.ID] = true
				drainingCount++
			}
		}
	}

	return map[string]interface{}{
		"enabled_rules":  len(snap.byID),
		"event_types":    len(snap.byType),
		"draining_rules": drainingCount,
		"auto_disabled":  autoDisabled,
	}
}

// compileLocked компилирует правило, привязывая сохраняемую статистику // v1.0
func (r *Registry) compileLocked(parsed *dsl.Rule, version int) (*dsl.CompiledRule, error) {
	compiled, err := r.compiler.CompileRule(parsed, version)
	if err != nil {
		return nil, err
	}
	stats, exists := r.stats[parsed.ID]
	if !exists {
		stats = &models.RuleStats{}
		r.stats[parsed.ID] = stats
	}
	compiled.Stats = stats
	return compiled, nil
}

// installLocked добавляет правило в снимок // v1.0
func (r *Registry) installLocked(snap *registrySnapshot, compiled *dsl.CompiledRule, enabled bool) {
	if !enabled {
		return
	}
	snap.byID[compiled.Rule.ID] = compiled
	for _, eventType := range compiled.Rule.EventTypes {
		snap.byType[eventType] = append(snap.byType[eventType], compiled)
	}
}

// addDraining добавляет правило в дорабатывающий индекс // v1.0
func (r *Registry) addDraining(snap *registrySnapshot, compiled *dsl.CompiledRule) {
	for _, eventType := range compiled.Rule.EventTypes {
		for _, existing := range snap.draining[eventType] {
			if existing.Rule.ID == compiled.Rule.ID {
				return
			}
		}
		snap.draining[eventType] = append(snap.draining[eventType], compiled)
	}
}

// copySnapshotWithout копирует текущий снимок, исключая правило // v1.0
func (r *Registry) copySnapshotWithout(ruleID string) *registrySnapshot {
	old := r.current()
	next := emptySnapshot()

	for id, compiled := range old.byID {
		if id != ruleID {
			next.byID[id] = compiled
			for _, eventType := range compiled.Rule.EventTypes {
				next.byType[eventType] = append(next.byType[eventType], compiled)
			}
		}
	}
	for eventType, drainingRules := range old.draining {
		for _, compiled := range drainingRules {
			if compiled.Rule.ID != ruleID {
				next.draining[eventType] = append(next.draining[eventType], compiled)
			}
		}
	}
	return next
}

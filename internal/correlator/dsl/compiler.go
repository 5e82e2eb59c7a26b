// filename: internal/correlator/dsl/compiler.go
package dsl

import (
	"fmt"

	"github.com/ndrsec/ndrsec/internal/models"
)

// CompiledRule скомпилированное правило, готовое к исполнению движком
type CompiledRule struct {
	Rule      *Rule
	Version   int
	Matcher   EventMatcher
	Evaluator ConditionEvaluator
	Stats     *models.RuleStats
}

// EventMatcher дешевый фильтр классификатора поверх индекса по типу события.
// Оценка условий правила выполняется стратегией, не матчером.
type EventMatcher interface {
	Match(event *models.Event) bool
}

// Compiler компилирует определения правил в исполняемые структуры // v1.0
type Compiler struct{}

// NewCompiler создает новый компилятор правил // v1.0
func NewCompiler() *Compiler {
	return &Compiler{}
}

// CompileRule компилирует правило в исполняемую структуру // v1.0
func (c *Compiler) CompileRule(rule *Rule, version int) (*CompiledRule, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}

	evaluator, err := c.createEvaluator(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:      rule,
		Version:   version,
		Matcher:   &requiredFieldsMatcher{fields: rule.RequiredFields},
		Evaluator: evaluator,
	}, nil
}

// createEvaluator создает стратегию оценки по форме правила // v1.0
func (c *Compiler) createEvaluator(rule *Rule) (ConditionEvaluator, error) {
	threshold := rule.EffectiveThreshold()

	switch rule.Strategy() {
	case StrategyDistinctValue:
		return NewDistinctValueEvaluator(rule.DistinctField, threshold), nil
	case StrategyFieldPredicate:
		return NewFieldPredicateEvaluator(rule.Conditions, rule.ConditionLogic, threshold)
	default:
		return NewCountThresholdEvaluator(threshold), nil
	}
}

// Fold сворачивает событие в сессию и сообщает, выполнено ли условие.
// Повторная доставка события с тем же ID не изменяет состояние и
// возвращает folded=false, чтобы дубликаты не попадали в статистику;
// окно дедупликации ограничено емкостью EventIDs сессии.
func (cr *CompiledRule) Fold(session *models.Session, event *models.Event, idsCap int) (met, folded bool, err error) {
	if session.HasEventID(event.ID) {
		return false, false, nil
	}

	session.RecordEventID(event.ID, idsCap)
	session.EventCount++
	session.Touch(event.TS)
	if session.State == nil {
		session.State = make(map[string]interface{})
	}

	met, err = cr.Evaluator.Evaluate(session, event)
	if err != nil {
		return false, true, err
	}
	if met {
		session.ConditionMet = true
	}
	return met, true, nil
}

// requiredFieldsMatcher требует присутствия настроенных полей у события // v1.0
type requiredFieldsMatcher struct {
	fields []string
}

// Match проверяет наличие всех обязательных полей // v1.0
func (m *requiredFieldsMatcher) Match(event *models.Event) bool {
	for _, field := range m.fields {
		if !event.HasField(field) {
			return false
		}
	}
	return true
}

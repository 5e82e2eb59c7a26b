// filename: internal/correlator/dsl/evaluator.go
package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ndrsec/ndrsec/internal/models"
)

// Ключи состояния сессии, используемые стратегиями оценки
const (
	stateKeyDistinct        = "distinct_values"
	stateKeyQualifyingCount = "qualifying_count"
)

// ConditionEvaluator оценивает условие правила, сворачивая событие
// в состояние сессии. Реализации чистые относительно (session, event).
type ConditionEvaluator interface {
	Evaluate(session *models.Session, event *models.Event) (bool, error)
	Strategy() Strategy
}

// CountThresholdEvaluator срабатывает при достижении порога количества событий // v1.0
type CountThresholdEvaluator struct {
	threshold int
}

// NewCountThresholdEvaluator создает оценщик порога количества // v1.0
func NewCountThresholdEvaluator(threshold int) *CountThresholdEvaluator {
	return &CountThresholdEvaluator{threshold: threshold}
}

// Evaluate проверяет, достигнут ли порог количества событий // v1.0
func (e *CountThresholdEvaluator) Evaluate(session *models.Session, _ *models.Event) (bool, error) {
	return session.EventCount >= e.threshold, nil
}

// Strategy возвращает тип стратегии // v1.0
func (e *CountThresholdEvaluator) Strategy() Strategy {
	return StrategyCountThreshold
}

// FieldPredicateEvaluator оценивает структурированный предикат над новым событием.
// Порог выше единицы требует, чтобы предикат выполнился нужное число раз в окне.
type FieldPredicateEvaluator struct {
	conditions []compiledCondition
	anyOf      bool
	threshold  int
}

// compiledCondition условие с предкомпилированным regex
type compiledCondition struct {
	Condition
	re *regexp.Regexp
}

// NewFieldPredicateEvaluator создает оценщик предиката полей // v1.0
func NewFieldPredicateEvaluator(conditions []Condition, logic string, threshold int) (*FieldPredicateEvaluator, error) {
	compiled := make([]compiledCondition, 0, len(conditions))
	for _, condition := range conditions {
		cc := compiledCondition{Condition: condition}
		if condition.Operator == "regex" {
			re, err := regexp.Compile(condition.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex in condition on field %s: %w", condition.Field, err)
			}
			cc.re = re
		}
		compiled = append(compiled, cc)
	}
	return &FieldPredicateEvaluator{
		conditions: compiled,
		anyOf:      logic == "or",
		threshold:  threshold,
	}, nil
}

// Evaluate оценивает предикат против нового события // v1.0
func (e *FieldPredicateEvaluator) Evaluate(session *models.Session, event *models.Event) (bool, error) {
	matched, err := e.matches(event)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, nil
	}

	qualifying := stateInt(session.State, stateKeyQualifyingCount) + 1
	session.State[stateKeyQualifyingCount] = qualifying

	return qualifying >= e.threshold, nil
}

// Strategy возвращает тип стратегии // v1.0
func (e *FieldPredicateEvaluator) Strategy() Strategy {
	return StrategyFieldPredicate
}

// matches проверяет условия с учетом логики AND/OR // v1.0
func (e *FieldPredicateEvaluator) matches(event *models.Event) (bool, error) {
	for _, condition := range e.conditions {
		ok, err := evaluateCondition(event, condition)
		if err != nil {
			return false, err
		}
		if e.anyOf && ok {
			return true, nil
		}
		if !e.anyOf && !ok {
			return false, nil
		}
	}
	return !e.anyOf, nil
}

// DistinctValueEvaluator отслеживает множество значений поля и срабатывает
// при достижении порога мощности множества. Моделирует правила обнаружения
// сканирования (например, число различных портов назначения).
type DistinctValueEvaluator struct {
	field     string
	threshold int
}

// NewDistinctValueEvaluator создает оценщик уникальных значений // v1.0
func NewDistinctValueEvaluator(field string, threshold int) *DistinctValueEvaluator {
	return &DistinctValueEvaluator{field: field, threshold: threshold}
}

// Evaluate добавляет значение поля в множество и проверяет порог // v1.0
func (e *DistinctValueEvaluator) Evaluate(session *models.Session, event *models.Event) (bool, error) {
	value := event.GetField(e.field)
	if value == "" {
		return false, nil
	}

	set := stateStringSet(session.State, stateKeyDistinct)
	set[value] = true
	session.State[stateKeyDistinct] = set

	return len(set) >= e.threshold, nil
}

// Strategy возвращает тип стратегии // v1.0
func (e *DistinctValueEvaluator) Strategy() Strategy {
	return StrategyDistinctValue
}

// evaluateCondition оценивает одно условие // v1.0
func evaluateCondition(event *models.Event, condition compiledCondition) (bool, error) {
	actual := event.GetField(condition.Field)

	result, err := compareValues(actual, condition, condition.Value)
	if err != nil {
		return false, err
	}

	if condition.Invert {
		return !result, nil
	}
	return result, nil
}

// compareValues сравнивает значения согласно оператору // v1.0
func compareValues(actual string, condition compiledCondition, expected string) (bool, error) {
	switch condition.Operator {
	case "eq":
		return actual == expected, nil
	case "ne":
		return actual != expected, nil
	case "contains":
		return strings.Contains(actual, expected), nil
	case "startswith":
		return strings.HasPrefix(actual, expected), nil
	case "endswith":
		return strings.HasSuffix(actual, expected), nil
	case "exists":
		return actual != "", nil
	case "regex":
		return condition.re.MatchString(actual), nil
	case "in":
		for _, value := range strings.Split(expected, ",") {
			if strings.TrimSpace(value) == actual {
				return true, nil
			}
		}
		return false, nil
	case "nin":
		for _, value := range strings.Split(expected, ",") {
			if strings.TrimSpace(value) == actual {
				return false, nil
			}
		}
		return true, nil
	case "gt", "gte", "lt", "lte":
		return compareNumeric(actual, condition.Operator, expected)
	default:
		return false, fmt.Errorf("unsupported operator: %s", condition.Operator)
	}
}

// compareNumeric сравнивает числовые значения // v1.0
func compareNumeric(actual, operator, expected string) (bool, error) {
	actualNum, err := strconv.ParseFloat(actual, 64)
	if err != nil {
		return false, nil
	}
	expectedNum, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false, fmt.Errorf("non-numeric comparison value: %s", expected)
	}

	switch operator {
	case "gt":
		return actualNum > expectedNum, nil
	case "gte":
		return actualNum >= expectedNum, nil
	case "lt":
		return actualNum < expectedNum, nil
	case "lte":
		return actualNum <= expectedNum, nil
	default:
		return false, fmt.Errorf("unsupported numeric operator: %s", operator)
	}
}

// stateInt извлекает целое из состояния сессии // v1.0
func stateInt(state map[string]interface{}, key string) int {
	if state == nil {
		return 0
	}
	switch v := state[key].(type) {
	case int:
		return v
	case float64:
		// После JSON roundtrip числа приходят как float64
		return int(v)
	default:
		return 0
	}
}

// stateStringSet извлекает множество строк из состояния сессии // v1.0
func stateStringSet(state map[string]interface{}, key string) map[string]bool {
	if state != nil {
		switch v := state[key].(type) {
		case map[string]bool:
			return v
		case map[string]interface{}:
			set := make(map[string]bool, len(v))
			for k := range v {
				set[k] = true
			}
			return set
		}
	}
	return make(map[string]bool)
}

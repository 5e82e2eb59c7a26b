// filename: internal/correlator/dsl/types.go
package dsl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ndrsec/ndrsec/internal/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration длительность, разбираемая из YAML/JSON строк вида "30s".
// yaml.v3 не умеет разбирать time.Duration из строки самостоятельно.
type Duration time.Duration

// Std возвращает стандартную time.Duration // v1.0
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String возвращает строковое представление // v1.0
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML разбирает длительность из YAML // v1.0
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML сериализует длительность в строку // v1.0
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalJSON разбирает длительность из JSON // v1.0
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON сериализует длительность в строку // v1.0
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Rule представляет определение правила корреляции
type Rule struct {
	ID                   string            `yaml:"id" json:"id" validate:"required"`
	Name                 string            `yaml:"name" json:"name" validate:"required"`
	Description          string            `yaml:"description" json:"description"`
	Severity             string            `yaml:"severity" json:"severity" validate:"required,oneof=low medium high critical"`
	Enabled              bool              `yaml:"enabled" json:"enabled"`
	EventTypes           []string          `yaml:"event_types" json:"event_types" validate:"required,min=1"`
	Window               Duration          `yaml:"window" json:"window" validate:"required"`
	Threshold            int               `yaml:"threshold" json:"threshold" validate:"min=0"`
	DistinctField        string            `yaml:"distinct_field" json:"distinct_field"`
	Conditions           []Condition       `yaml:"conditions" json:"conditions"`
	ConditionLogic       string            `yaml:"condition_logic" json:"condition_logic" validate:"omitempty,oneof=and or"`
	CorrelationKeyFields []string          `yaml:"correlation_key" json:"correlation_key"`
	RequiredFields       []string          `yaml:"required_fields" json:"required_fields"`
	Suppress             SuppressConfig    `yaml:"suppress" json:"suppress"`
	Alert                AlertTemplate     `yaml:"alert" json:"alert"`
	Metadata             map[string]string `yaml:"metadata" json:"metadata"`
}

// Condition условие над полем события // v1.0
type Condition struct {
	Field    string `yaml:"field" json:"field" validate:"required"`
	Operator string `yaml:"operator" json:"operator" validate:"required"`
	Value    string `yaml:"value" json:"value"`
	Invert   bool   `yaml:"invert" json:"invert"`
}

// SuppressConfig конфигурация подавления дубликатов // v1.0
type SuppressConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Window  Duration `yaml:"window" json:"window"`
}

// AlertTemplate шаблон алерта для правила // v1.0
type AlertTemplate struct {
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`
}

// Strategy тип стратегии оценки условия правила
type Strategy string

const (
	StrategyCountThreshold Strategy = "count-threshold"
	StrategyFieldPredicate Strategy = "field-predicate"
	StrategyDistinctValue  Strategy = "distinct-value"
)

// SupportedOperators поддерживаемые операторы сравнения // v1.0
var SupportedOperators = map[string]string{
	"eq":         "equals",
	"ne":         "not equals",
	"gt":         "greater than",
	"gte":        "greater than or equal",
	"lt":         "less than",
	"lte":        "less than or equal",
	"in":         "in list",
	"nin":        "not in list",
	"regex":      "regular expression",
	"contains":   "contains",
	"startswith": "starts with",
	"endswith":   "ends with",
	"exists":     "field present",
}

var ruleValidator = validator.New()

// ParseRule разбирает YAML определение правила // v1.0
func ParseRule(yamlData []byte) (*Rule, error) {
	// Правило без явного enabled считается включенным
	rule := Rule{Enabled: true}
	if err := yaml.Unmarshal(yamlData, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule YAML: %w", err)
	}
	if err := ValidateRule(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Strategy определяет стратегию оценки по форме правила.
// distinct_field выбирает distinct-value, условия выбирают field-predicate,
// иначе действует count-threshold.
func (r *Rule) Strategy() Strategy {
	if r.DistinctField != "" {
		return StrategyDistinctValue
	}
	if len(r.Conditions) > 0 {
		return StrategyFieldPredicate
	}
	return StrategyCountThreshold
}

// EffectiveThreshold возвращает порог срабатывания.
// Порог 0 означает, что достаточно одного подходящего события.
func (r *Rule) EffectiveThreshold() int {
	if r.Threshold < 1 {
		return 1
	}
	return r.Threshold
}

// CorrelationKeyFor строит ключ корреляции для события // v1.0
func (r *Rule) CorrelationKeyFor(event *models.Event) string {
	if len(r.CorrelationKeyFields) == 0 {
		return ""
	}
	values := make(map[string]string, len(r.CorrelationKeyFields))
	for _, field := range r.CorrelationKeyFields {
		values[field] = event.GetField(field)
	}
	return models.CorrelationKeyFromFields(values)
}

// ValidateRule валидирует правило корреляции // v1.0
func ValidateRule(rule *Rule) error {
	if err := ruleValidator.Struct(rule); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}
	if rule.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive", rule.ID)
	}
	if rule.Suppress.Enabled && rule.Suppress.Window <= 0 {
		return fmt.Errorf("rule %s: suppress window must be positive when suppression is enabled", rule.ID)
	}
	for _, condition := range rule.Conditions {
		if _, ok := SupportedOperators[condition.Operator]; !ok {
			return fmt.Errorf("rule %s: unsupported operator: %s", rule.ID, condition.Operator)
		}
	}
	if rule.DistinctField != "" && len(rule.Conditions) > 0 {
		return fmt.Errorf("rule %s: distinct_field and conditions are mutually exclusive", rule.ID)
	}
	return nil
}

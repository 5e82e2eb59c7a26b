// filename: internal/correlator/emitter.go
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ndrsec/ndrsec/internal/common/errors"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	natsclient "github.com/ndrsec/ndrsec/internal/common/nats"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
	"github.com/ndrsec/ndrsec/internal/models"
)

// placeholderPattern шаблонные подстановки вида {{field}}
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// AlertSink приемник готовых оповещений
type AlertSink interface {
	Publish(ctx context.Context, alert *models.Alert) error
}

// NATSSink публикует оповещения в JetStream
type NATSSink struct {
	client  *natsclient.Client
	subject string
}

// NewNATSSink создает NATS-приемник оповещений // v1.0
func NewNATSSink(client *natsclient.Client, subject string) *NATSSink {
	if subject == "" {
		subject = "alerts.created"
	}
	return &NATSSink{client: client, subject: subject}
}

// Publish сериализует и публикует оповещение // v1.0
func (s *NATSSink) Publish(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.client.PublishRaw(s.subject, data); err != nil {
		return errors.SinkUnavailableError(err, alert.ID)
	}
	return nil
}

// EmitterConfig конфигурация эмиттера оповещений
type EmitterConfig struct {
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Emitter строит оповещения и асинхронно доставляет их в приемник.
// Очередь доставки ограничена, при переполнении оповещение теряется
// с записью в лог и метрику.
type Emitter struct {
	config  EmitterConfig
	sink    AlertSink
	logger  *logging.Logger
	metrics *Metrics

	queue    chan *models.Alert
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu           sync.Mutex
	emittedTotal int64
	droppedTotal int64
}

// NewEmitter создает эмиттер оповещений // v1.0
func NewEmitter(config EmitterConfig, sink AlertSink, logger *logging.Logger, metrics *Metrics) *Emitter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 2 * time.Second
	}
	return &Emitter{
		config:   config,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan *models.Alert, config.QueueSize),
		stopChan: make(chan struct{}),
	}
}

// Start запускает воркер доставки // v1.0
func (e *Emitter) Start() {
	e.wg.Add(1)
	go e.deliveryLoop()
	e.logger.Info("Alert emitter started")
}

// Stop останавливает воркер, дожидаясь доставки очереди // v1.0
func (e *Emitter) Stop() {
	close(e.stopChan)
	e.wg.Wait()
	e.logger.Info("Alert emitter stopped")
}

// BuildAlert строит оповещение из правила, сессии и замыкающего события // v1.0
func (e *Emitter) BuildAlert(rule *dsl.Rule, session *models.Session, event *models.Event) *models.Alert {
	vars := templateVars(rule, session, event)

	title := RenderTemplate(rule.Alert.Title, vars)
	if title == "" {
		title = rule.Name
	}
	description := RenderTemplate(rule.Alert.Description, vars)

	metadata := make(map[string]string, len(rule.Alert.Metadata)+4)
	for key, value := range rule.Alert.Metadata {
		metadata[key] = RenderTemplate(value, vars)
	}
	metadata["rule_name"] = rule.Name
	metadata["correlation_key"] = session.CorrelationKey
	metadata["event_count"] = strconv.Itoa(session.EventCount)
	metadata["window"] = rule.Window.String()

	dedupKey := models.SuppressionKeyHash(rule.ID, session.CorrelationKey)

	return models.NewAlert(rule.ID, session.ID, rule.Severity, title, description, dedupKey, metadata)
}

// Enqueue ставит оповещение в очередь доставки без блокировки // v1.0
func (e *Emitter) Enqueue(alert *models.Alert) bool {
	select {
	case e.queue <- alert:
		e.mu.Lock()
		e.emittedTotal++
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.AlertsEmitted.Inc()
		}
		return true
	default:
		e.dropAlert(alert, fmt.Errorf("delivery queue full"))
		return false
	}
}

// deliveryLoop доставляет оповещения из очереди // v1.0
func (e *Emitter) deliveryLoop() {
	defer e.wg.Done()

	for {
		select {
		case alert := <-e.queue:
			e.deliver(alert)
		case <-e.stopChan:
			// Добираем очередь перед выходом
			for {
				select {
				case alert := <-e.queue:
					e.deliver(alert)
				default:
					return
				}
			}
		}
	}
}

// deliver доставляет одно оповещение с повторами и нарастающей задержкой // v1.0
func (e *Emitter) deliver(alert *models.Alert) {
	var lastErr error
	backoff := e.config.RetryBackoff

	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		lastErr = e.sink.Publish(ctx, alert)
		cancel()

		if lastErr == nil {
			e.logger.WithAlert(alert.ID, alert.RuleID, alert.Severity).
				Info("Alert delivered")
			return
		}

		e.logger.WithAlert(alert.ID, alert.RuleID, alert.Severity).
			WithError(lastErr).
			WithField("attempt", attempt).
			Warn("Alert delivery failed, retrying")

		select {
		case <-time.After(backoff):
		case <-e.stopChan:
			// На останове пробуем оставшиеся попытки без задержки
		}
		backoff *= 2
	}

	e.dropAlert(alert, lastErr)
}

// dropAlert фиксирует потерю оповещения // v1.0
func (e *Emitter) dropAlert(alert *models.Alert, reason error) {
	e.mu.Lock()
	e.droppedTotal++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsDropped.Inc()
	}
	e.logger.WithAlert(alert.ID, alert.RuleID, alert.Severity).
		WithError(reason).
		Error("Alert dropped")
}

// GetStats возвращает статистику эмиттера // v1.0
func (e *Emitter) GetStats() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]interface{}{
		"emitted_total": e.emittedTotal,
		"dropped_total": e.droppedTotal,
		"queue_length":  len(e.queue),
		"queue_size":    e.config.QueueSize,
	}
}

// RenderTemplate подставляет значения в шаблон вида "{{field}}".
// Неразрешимые подстановки заменяются пустой строкой.
func RenderTemplate(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
}

// templateVars собирает переменные подстановки из правила, сессии и события // v1.0
func templateVars(rule *dsl.Rule, session *models.Session, event *models.Event) map[string]string {
	vars := map[string]string{
		"rule_id":         rule.ID,
		"rule_name":       rule.Name,
		"severity":        rule.Severity,
		"session_id":      session.ID,
		"correlation_key": session.CorrelationKey,
		"event_count":     strconv.Itoa(session.EventCount),
		"window":          rule.Window.String(),
	}

	if event != nil {
		vars["event_id"] = event.ID
		vars["event_type"] = event.Type
		vars["source"] = event.Source
		vars["entity"] = event.Entity
		vars["source_ip"] = event.SourceIP
		vars["dest_ip"] = event.DestIP
		for name, value := range event.Fields {
			vars[name] = value
		}
	}

	switch set := session.State["distinct_values"].(type) {
	case map[string]bool:
		vars["distinct_count"] = strconv.Itoa(len(set))
	case map[string]interface{}:
		vars["distinct_count"] = strconv.Itoa(len(set))
	}
	return vars
}

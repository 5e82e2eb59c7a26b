// filename: internal/correlator/audit.go
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/models"
)

// AuditStore долговременное хранилище записей сессий. В проде это
// клиент ClickHouse из internal/common/ch.
type AuditStore interface {
	InsertSessionRecord(ctx context.Context, session *models.Session) error
	LoadRecentSessions(ctx context.Context, since time.Time, limit int) ([]*models.Session, error)
}

// AuditWriter асинхронно пишет записи сессий: терминальные для аудита
// и снимки активных для восстановления после рестарта. Запись делается
// по лучшим усилиям: переполнение очереди или недоступность хранилища
// не тормозят горячий путь корреляции.
type AuditWriter struct {
	store  AuditStore
	logger *logging.Logger

	queue    chan *models.Session
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu           sync.Mutex
	writtenTotal int64
	droppedTotal int64
}

// NewAuditWriter создает писатель аудита сессий // v1.0
func NewAuditWriter(store AuditStore, logger *logging.Logger, queueSize int) *AuditWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AuditWriter{
		store:    store,
		logger:   logger,
		queue:    make(chan *models.Session, queueSize),
		stopChan: make(chan struct{}),
	}
}

// Start запускает воркер записи // v1.0
func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.writeLoop()
	w.logger.Info("Session audit writer started")
}

// Stop останавливает воркер, добирая очередь // v1.0
func (w *AuditWriter) Stop() {
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Session audit writer stopped")
}

// Write ставит копию сессии в очередь записи без блокировки // v1.0
func (w *AuditWriter) Write(session *models.Session) {
	select {
	case w.queue <- session.Clone():
	default:
		w.mu.Lock()
		w.droppedTotal++
		w.mu.Unlock()
		w.logger.WithSession(session.ID, session.RuleID, session.CorrelationKey).
			Warn("Audit queue full, session record dropped")
	}
}

// writeLoop пишет сессии из очереди // v1.0
func (w *AuditWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case session := <-w.queue:
			w.insert(session)
		case <-w.stopChan:
			for {
				select {
				case session := <-w.queue:
					w.insert(session)
				default:
					return
				}
			}
		}
	}
}

// insert записывает одну сессию // v1.0
func (w *AuditWriter) insert(session *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.InsertSessionRecord(ctx, session); err != nil {
		w.mu.Lock()
		w.droppedTotal++
		w.mu.Unlock()
		w.logger.WithSession(session.ID, session.RuleID, session.CorrelationKey).
			WithError(err).
			Warn("Failed to write session audit record")
		return
	}

	w.mu.Lock()
	w.writtenTotal++
	w.mu.Unlock()
}

// RestoreRecent загружает недавние записи сессий, новые прежде старых // v1.0
func (w *AuditWriter) RestoreRecent(ctx context.Context, since time.Time, limit int) ([]*models.Session, error) {
	return w.store.LoadRecentSessions(ctx, since, limit)
}

// GetStats возвращает статистику писателя аудита // v1.0
func (w *AuditWriter) GetStats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]interface{}{
		"written_total": w.writtenTotal,
		"dropped_total": w.droppedTotal,
		"queue_length":  len(w.queue),
	}
}

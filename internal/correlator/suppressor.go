// filename: internal/correlator/suppressor.go
package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
	"github.com/ndrsec/ndrsec/internal/models"
)

// SuppressionStore хранилище окон подавления оповещений
type SuppressionStore interface {
	// TryAcquire атомарно проверяет и открывает окно подавления для пары
	// (правило, ключ). Возвращает true, если оповещение разрешено.
	TryAcquire(ctx context.Context, ruleID, key string, window time.Duration, now time.Time) (bool, error)
}

// MemorySuppressionStore хранилище подавления в памяти процесса
type MemorySuppressionStore struct {
	mu      sync.Mutex
	records map[string]*models.Suppression
}

// NewMemorySuppressionStore создает хранилище подавления в памяти // v1.0
func NewMemorySuppressionStore() *MemorySuppressionStore {
	return &MemorySuppressionStore{
		records: make(map[string]*models.Suppression),
	}
}

// TryAcquire проверяет и открывает окно подавления // v1.0
func (s *MemorySuppressionStore) TryAcquire(ctx context.Context, ruleID, key string, window time.Duration, now time.Time) (bool, error) {
	hash := models.SuppressionKeyHash(ruleID, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, exists := s.records[hash]; exists && now.Before(rec.Until) {
		return false, nil
	}

	s.records[hash] = &models.Suppression{
		RuleID:        ruleID,
		KeyHash:       hash,
		LastAlertTime: now,
		Until:         now.Add(window),
	}
	return true, nil
}

// Purge удаляет истекшие записи подавления // v1.0
func (s *MemorySuppressionStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for hash, rec := range s.records {
		if !now.Before(rec.Until) {
			delete(s.records, hash)
			purged++
		}
	}
	return purged
}

// Size возвращает число активных записей подавления // v1.0
func (s *MemorySuppressionStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// RedisSuppressionStore хранилище подавления в Redis, разделяемое
// между экземплярами коррелятора
type RedisSuppressionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSuppressionStore создает хранилище подавления в Redis // v1.0
func NewRedisSuppressionStore(client *redis.Client, prefix string) *RedisSuppressionStore {
	if prefix == "" {
		prefix = "ndrsec:suppress"
	}
	return &RedisSuppressionStore{
		client: client,
		prefix: prefix,
	}
}

// TryAcquire проверяет и открывает окно подавления через SET NX // v1.0
func (s *RedisSuppressionStore) TryAcquire(ctx context.Context, ruleID, key string, window time.Duration, now time.Time) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", s.prefix, models.SuppressionKeyHash(ruleID, key))

	acquired, err := s.client.SetNX(ctx, redisKey, now.Format(time.RFC3339Nano), window).Result()
	if err != nil {
		return false, fmt.Errorf("suppression store unavailable: %w", err)
	}
	return acquired, nil
}

// Suppressor контроллер подавления повторных оповещений
type Suppressor struct {
	store  SuppressionStore
	logger *logging.Logger

	suppressedTotal int64
	mu              sync.Mutex
}

// NewSuppressor создает контроллер подавления // v1.0
func NewSuppressor(store SuppressionStore, logger *logging.Logger) *Suppressor {
	return &Suppressor{
		store:  store,
		logger: logger,
	}
}

// ShouldEmit решает, разрешено ли оповещение для пары (правило, ключ).
// При недоступности хранилища подавления оповещение пропускается:
// лишнее оповещение лучше потерянного.
func (s *Suppressor) ShouldEmit(ctx context.Context, rule *dsl.Rule, key string, now time.Time) bool {
	if !rule.Suppress.Enabled {
		return true
	}

	allowed, err := s.store.TryAcquire(ctx, rule.ID, key, rule.Suppress.Window.Std(), now)
	if err != nil {
		s.logger.WithRule(rule.ID, rule.Name).
			WithError(err).
			Warn("Suppression check failed, allowing alert")
		return true
	}

	if !allowed {
		s.mu.Lock()
		s.suppressedTotal++
		s.mu.Unlock()
	}
	return allowed
}

// SuppressedTotal возвращает число подавленных оповещений // v1.0
func (s *Suppressor) SuppressedTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressedTotal
}

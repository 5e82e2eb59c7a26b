// filename: internal/correlator/service.go
package correlator

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ndrsec/ndrsec/internal/common/ch"
	"github.com/ndrsec/ndrsec/internal/common/config"
	"github.com/ndrsec/ndrsec/internal/common/errors"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	natsclient "github.com/ndrsec/ndrsec/internal/common/nats"
	"github.com/ndrsec/ndrsec/internal/common/pg"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
	"github.com/ndrsec/ndrsec/internal/correlator/state"
	"github.com/ndrsec/ndrsec/internal/models"
	"github.com/ndrsec/ndrsec/internal/rules"
)

const (
	subjectEventsNormalized = "events.normalized"
	subjectAlertsCreated    = "alerts.created"
)

// Service сервис корреляции: владеет клиентами внешних систем,
// движком и источниками правил
type Service struct {
	config *config.Config
	logger *logging.Logger

	natsClient  *natsclient.Client
	pgClient    *pg.Client
	chClient    *ch.Client
	redisClient *redis.Client

	registry     *Registry
	store        *state.Store
	suppressor   *Suppressor
	memSuppress  *MemorySuppressionStore
	emitter      *Emitter
	metrics      *Metrics
	audit        *AuditWriter
	engine       *Engine
	scheduler    *Scheduler
	promRegistry *prometheus.Registry

	ruleRepo  *rules.Repository
	dirLoader *rules.DirLoader
	watcher   *rules.Watcher
}

// NewService создает сервис корреляции // v1.0
func NewService(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	s := &Service{
		config: cfg,
		logger: logger,
	}

	natsClient, err := natsclient.NewClient(natsclient.Config{
		URLs:         cfg.NATS.URLs,
		ClientID:     cfg.NATS.ClientID,
		QueueGroup:   cfg.NATS.QueueGroup,
		Credentials:  cfg.NATS.Credentials,
		NKeySeedFile: cfg.NATS.NKeySeedFile,
		Timeout:      cfg.NATS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s.natsClient = natsClient

	if cfg.Rules.FromDatabase {
		pgClient, err := pg.NewClient(pg.Config{
			Host:            cfg.PostgreSQL.Host,
			Port:            cfg.PostgreSQL.Port,
			Database:        cfg.PostgreSQL.Database,
			Username:        cfg.PostgreSQL.Username,
			Password:        cfg.PostgreSQL.Password,
			SSLMode:         cfg.PostgreSQL.SSLMode,
			MaxOpenConns:    cfg.PostgreSQL.MaxOpenConns,
			MaxIdleConns:    cfg.PostgreSQL.MaxIdleConns,
			ConnMaxLifetime: cfg.PostgreSQL.ConnMaxLifetime,
		})
		if err != nil {
			s.closePartial()
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.pgClient = pgClient
		s.ruleRepo = rules.NewRepository(pgClient, logger)
	}

	if cfg.Rules.Dir != "" {
		s.dirLoader = rules.NewDirLoader(cfg.Rules.Dir, logger)
	}
	if s.ruleRepo == nil && s.dirLoader == nil {
		s.closePartial()
		return nil, fmt.Errorf("no rule source configured: set rules.dir or rules.from_database")
	}

	if cfg.ClickHouse.Enabled {
		chClient, err := ch.NewClient(ch.Config{
			Hosts:    cfg.ClickHouse.Hosts,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Port:     cfg.ClickHouse.Port,
			Secure:   cfg.ClickHouse.Secure,
			Compress: cfg.ClickHouse.Compress,
			Timeout:  cfg.ClickHouse.Timeout,
		})
		if err != nil {
			s.closePartial()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		s.chClient = chClient
		s.audit = NewAuditWriter(chClient, logger, cfg.Engine.EventBufferSize)
	}

	var suppressStore SuppressionStore
	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:        cfg.GetRedisAddr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.Timeout,
			ReadTimeout: cfg.Redis.Timeout,
		})
		suppressStore = NewRedisSuppressionStore(s.redisClient, cfg.Redis.KeyPrefix)
	} else {
		s.memSuppress = NewMemorySuppressionStore()
		suppressStore = s.memSuppress
	}

	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(collectors.NewGoCollector())
	s.promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = NewMetrics(s.promRegistry)

	s.registry = NewRegistry(logger, cfg.Engine.ErrorBudget)
	s.store = state.NewStore(state.Config{
		MaxActiveSessions: cfg.Engine.MaxActiveSessions,
		TerminalRetention: cfg.Engine.TerminalRetention,
	})
	s.suppressor = NewSuppressor(suppressStore, logger)
	s.emitter = NewEmitter(EmitterConfig{
		QueueSize:    cfg.Engine.SinkQueueSize,
		MaxRetries:   cfg.Engine.SinkMaxRetries,
		RetryBackoff: cfg.Engine.SinkRetryBackoff,
	}, NewNATSSink(natsClient, subjectAlertsCreated), logger, s.metrics)

	s.engine = NewEngine(cfg.Engine, logger, s.registry, s.store, s.suppressor, s.emitter, s.metrics, s.audit)
	s.scheduler = NewScheduler(cfg.Engine.TickInterval, cfg.Engine.SnapshotInterval, s.engine, s.store, s.memSuppress, logger)

	return s, nil
}

// Start запускает сервис: загружает правила, восстанавливает сессии
// и подписывается на нормализованные события
func (s *Service) Start(ctx context.Context) error {
	if s.ruleRepo != nil {
		if err := s.ruleRepo.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	if s.chClient != nil {
		if err := s.chClient.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	if err := s.ReloadRules(ctx); err != nil {
		return fmt.Errorf("initial rule load failed: %w", err)
	}

	if s.audit != nil {
		s.audit.Start()
	}
	s.emitter.Start()
	s.engine.Start()

	if s.audit != nil {
		since := time.Now().Add(-24 * time.Hour)
		s.engine.RestoreSessions(ctx, since, s.config.Engine.MaxActiveSessions)
	}

	s.scheduler.Start()

	if s.dirLoader != nil && s.config.Rules.WatchDir {
		watcher, err := rules.NewWatcher(s.config.Rules.Dir, s.config.Rules.ReloadDebounce, func() {
			reloadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.ReloadRules(reloadCtx); err != nil {
				s.logger.WithError(err).Error("Rule reload failed, keeping previous rule set")
			}
		}, s.logger)
		if err != nil {
			return err
		}
		s.watcher = watcher
		s.watcher.Start()
	}

	err := s.natsClient.SubscribeToEventsWithQueue(subjectEventsNormalized, s.config.NATS.QueueGroup, s.handleEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	s.logger.WithField("subject", subjectEventsNormalized).Info("Correlator service started")
	return nil
}

// Stop останавливает сервис в порядке, обратном запуску // v1.0
func (s *Service) Stop() {
	if err := s.natsClient.Unsubscribe(subjectEventsNormalized); err != nil {
		s.logger.WithError(err).Warn("Failed to unsubscribe from events")
	}

	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.scheduler.Stop()
	s.engine.Stop()
	s.emitter.Stop()
	if s.audit != nil {
		s.audit.Stop()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if s.chClient != nil {
		if err := s.chClient.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close ClickHouse client")
		}
	}
	if s.pgClient != nil {
		if err := s.pgClient.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close PostgreSQL client")
		}
	}
	if err := s.natsClient.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close NATS client")
	}

	s.logger.Info("Correlator service stopped")
}

// handleEvent обрабатывает сырое событие из NATS // v1.0
func (s *Service) handleEvent(data []byte) {
	event, err := models.NewEventFromJSON(string(data))
	if err != nil {
		s.logger.WithError(err).Warn("Failed to parse normalized event")
		return
	}
	s.engine.SubmitEvent(event)
}

// ReloadRules перечитывает правила из настроенных источников и
// атомарно заменяет набор в реестре. Ошибка любого источника
// оставляет прежний набор.
func (s *Service) ReloadRules(ctx context.Context) error {
	var loaded []*models.Rule

	if s.ruleRepo != nil {
		dbRules, err := s.ruleRepo.LoadEnabled(ctx)
		if err != nil {
			return err
		}
		loaded = append(loaded, dbRules...)
	}

	if s.dirLoader != nil {
		dirRules, err := s.dirLoader.Load()
		if err != nil {
			return err
		}
		loaded = append(loaded, dirRules...)
	}

	return s.registry.Reload(loaded)
}

// UpsertRule валидирует и сохраняет правило из YAML // v1.0
func (s *Service) UpsertRule(ctx context.Context, yamlData []byte) (*models.Rule, error) {
	parsed, err := dsl.ParseRule(yamlData)
	if err != nil {
		return nil, err
	}

	rule := &models.Rule{
		ID:      parsed.ID,
		Name:    parsed.Name,
		Version: 1,
		YAML:    string(yamlData),
		Enabled: parsed.Enabled,
	}

	if s.ruleRepo != nil {
		if err := s.ruleRepo.Upsert(ctx, rule); err != nil {
			return nil, err
		}
	}

	if err := s.registry.Upsert(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DisableRule отключает правило // v1.0
func (s *Service) DisableRule(ctx context.Context, id string) error {
	if s.ruleRepo != nil {
		if err := s.ruleRepo.SetEnabled(ctx, id, false); err != nil && !errors.IsErrorCode(err, errors.ErrorCodeNotFound) {
			return err
		}
	}
	return s.registry.Disable(id)
}

// GetRule возвращает скомпилированное правило // v1.0
func (s *Service) GetRule(id string) (*dsl.CompiledRule, bool) {
	return s.registry.Get(id)
}

// Registry возвращает реестр правил // v1.0
func (s *Service) Registry() *Registry {
	return s.registry
}

// Engine возвращает движок корреляции // v1.0
func (s *Service) Engine() *Engine {
	return s.engine
}

// PrometheusRegistry возвращает реестр метрик для HTTP-экспорта // v1.0
func (s *Service) PrometheusRegistry() *prometheus.Registry {
	return s.promRegistry
}

// Health возвращает состояние подключений к внешним системам // v1.0
func (s *Service) Health(ctx context.Context) map[string]bool {
	health := map[string]bool{
		"nats": s.natsClient.IsConnected(),
	}
	if s.pgClient != nil {
		health["postgresql"] = s.pgClient.Ping(ctx) == nil
	}
	if s.chClient != nil {
		health["clickhouse"] = s.chClient.Ping(ctx) == nil
	}
	if s.redisClient != nil {
		health["redis"] = s.redisClient.Ping(ctx).Err() == nil
	}
	return health
}

// GetStats возвращает сводную статистику сервиса // v1.0
func (s *Service) GetStats() map[string]interface{} {
	stats := s.engine.GetStats()
	stats["nats"] = s.natsClient.GetConnectionInfo()
	if s.pgClient != nil {
		stats["postgresql"] = s.pgClient.GetStats()
	}
	if s.chClient != nil {
		stats["clickhouse"] = s.chClient.GetStats()
	}
	return stats
}

// closePartial закрывает уже открытые клиенты при ошибке инициализации // v1.0
func (s *Service) closePartial() {
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.chClient != nil {
		s.chClient.Close()
	}
	if s.pgClient != nil {
		s.pgClient.Close()
	}
	if s.natsClient != nil {
		s.natsClient.Close()
	}
}

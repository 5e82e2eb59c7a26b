// filename: internal/common/ch/client.go
package ch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ndrsec/ndrsec/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Client представляет клиент ClickHouse
type Client struct {
	conn   clickhouse.Conn
	config Config
}

// Config представляет конфигурацию ClickHouse
type Config struct {
	Hosts    []string      `yaml:"hosts"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Port     int           `yaml:"port"`
	Secure   bool          `yaml:"secure"`
	Compress bool          `yaml:"compress"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NewClient создает новый клиент ClickHouse // v1.0
func NewClient(config Config) (*Client, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Hosts[0], config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Debug: false,
	}

	if config.Compress {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	if config.Secure && config.Port == 9000 {
		opts.Settings["secure"] = true
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{
		conn:   conn,
		config: config,
	}, nil
}

// Close закрывает соединение с ClickHouse // v1.0
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping проверяет соединение с ClickHouse // v1.0
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec выполняет SQL команду // v1.0
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// Query выполняет SQL запрос // v1.0
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// EnsureSchema создает таблицу записей сессий при первом запуске // v1.0
func (c *Client) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS correlator_sessions (
			snapshot_time    DateTime64(3),
			id               String,
			rule_id          String,
			correlation_key  String,
			status           LowCardinality(String),
			first_event_time DateTime64(3),
			last_event_time  DateTime64(3),
			expires_at       DateTime64(3),
			closed_at        DateTime64(3),
			event_count      UInt64,
			condition_met    Bool,
			alert_id         String,
			event_ids        Array(String),
			state            String
		) ENGINE = MergeTree()
		ORDER BY (rule_id, correlation_key, snapshot_time)
		TTL toDateTime(snapshot_time) + INTERVAL 30 DAY
	`
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// InsertSessionRecord вставляет запись сессии: терминальную для аудита
// или снимок активной для восстановления после рестарта // v1.0
func (c *Client) InsertSessionRecord(ctx context.Context, session *models.Session) error {
	stateJSON, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	query := `
		INSERT INTO correlator_sessions (
			snapshot_time, id, rule_id, correlation_key, status,
			first_event_time, last_event_time, expires_at, closed_at,
			event_count, condition_met, alert_id, event_ids, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return c.conn.Exec(ctx, query,
		time.Now().UTC(),
		session.ID,
		session.RuleID,
		session.CorrelationKey,
		string(session.Status),
		session.FirstEventTime,
		session.LastEventTime,
		session.ExpiresAt,
		session.ClosedAt,
		uint64(session.EventCount),
		session.ConditionMet,
		session.AlertID,
		session.EventIDs,
		string(stateJSON),
	)
}

// LoadRecentSessions возвращает записи сессий за последний период,
// новые прежде старых, вместе с состоянием оценщика // v1.0
func (c *Client) LoadRecentSessions(ctx context.Context, since time.Time, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, rule_id, correlation_key, status,
			first_event_time, last_event_time, expires_at, closed_at,
			event_count, condition_met, alert_id, event_ids, state
		FROM correlator_sessions
		WHERE snapshot_time >= ?
		ORDER BY snapshot_time DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var s models.Session
		var status string
		var eventCount uint64
		var stateJSON string
		if err := rows.Scan(
			&s.ID, &s.RuleID, &s.CorrelationKey, &status,
			&s.FirstEventTime, &s.LastEventTime, &s.ExpiresAt, &s.ClosedAt,
			&eventCount, &s.ConditionMet, &s.AlertID, &s.EventIDs, &stateJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		s.Status = models.SessionStatus(status)
		s.EventCount = int(eventCount)
		if stateJSON != "" && stateJSON != "null" {
			if err := json.Unmarshal([]byte(stateJSON), &s.State); err != nil {
				return nil, fmt.Errorf("failed to decode session state: %w", err)
			}
		}
		sessions = append(sessions, &s)
	}

	return sessions, nil
}

// GetStats возвращает статистику клиента // v1.0
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"database": c.config.Database,
		"host":     c.config.Hosts[0],
		"port":     c.config.Port,
	}
}

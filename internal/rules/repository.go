// filename: internal/rules/repository.go
package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ndrsec/ndrsec/internal/common/errors"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/common/pg"
	"github.com/ndrsec/ndrsec/internal/models"
)

// Repository хранилище правил корреляции в PostgreSQL
type Repository struct {
	client *pg.Client
	logger *logging.Logger
}

// NewRepository создает репозиторий правил // v1.0
func NewRepository(client *pg.Client, logger *logging.Logger) *Repository {
	return &Repository{
		client: client,
		logger: logger,
	}
}

// EnsureSchema создает таблицу правил при первом запуске // v1.0
func (r *Repository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS correlator_rules (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			yaml       TEXT NOT NULL,
			enabled    BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := r.client.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create rules table: %w", err)
	}
	return nil
}

// LoadEnabled загружает включенные правила // v1.0
func (r *Repository) LoadEnabled(ctx context.Context) ([]*models.Rule, error) {
	return r.load(ctx, `
		SELECT id, name, version, yaml, enabled, created_at, updated_at
		FROM correlator_rules
		WHERE enabled = TRUE
		ORDER BY id`)
}

// LoadAll загружает все правила, включая отключенные // v1.0
func (r *Repository) LoadAll(ctx context.Context) ([]*models.Rule, error) {
	return r.load(ctx, `
		SELECT id, name, version, yaml, enabled, created_at, updated_at
		FROM correlator_rules
		ORDER BY id`)
}

// load выполняет запрос и сканирует правила // v1.0
func (r *Repository) load(ctx context.Context, query string) ([]*models.Rule, error) {
	rows, err := r.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []*models.Rule
	for rows.Next() {
		rule := &models.Rule{}
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Version, &rule.YAML,
			&rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return result, nil
}

// Get возвращает правило по ID // v1.0
func (r *Repository) Get(ctx context.Context, id string) (*models.Rule, error) {
	rule := &models.Rule{}
	err := r.client.QueryRow(ctx, `
		SELECT id, name, version, yaml, enabled, created_at, updated_at
		FROM correlator_rules
		WHERE id = $1`, id).
		Scan(&rule.ID, &rule.Name, &rule.Version, &rule.YAML,
			&rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Upsert сохраняет правило, наращивая версию при обновлении // v1.0
func (r *Repository) Upsert(ctx context.Context, rule *models.Rule) error {
	now := time.Now()
	err := r.client.QueryRow(ctx, `
		INSERT INTO correlator_rules (id, name, version, yaml, enabled, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			version    = correlator_rules.version + 1,
			yaml       = EXCLUDED.yaml,
			enabled    = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING version, created_at`,
		rule.ID, rule.Name, rule.YAML, rule.Enabled, now).
		Scan(&rule.Version, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}
	rule.UpdatedAt = now

	r.logger.WithRule(rule.ID, rule.Name).
		WithField("version", rule.Version).
		Info("Rule saved")
	return nil
}

// SetEnabled включает или выключает правило // v1.0
func (r *Repository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.client.Exec(ctx, `
		UPDATE correlator_rules
		SET enabled = $2, updated_at = NOW()
		WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return errors.NotFoundError("rule", id)
	}
	return nil
}

// Delete удаляет правило // v1.0
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.client.Exec(ctx, `DELETE FROM correlator_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return errors.NotFoundError("rule", id)
	}
	return nil
}

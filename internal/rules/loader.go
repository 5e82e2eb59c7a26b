// filename: internal/rules/loader.go
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ndrsec/ndrsec/internal/common/errors"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
	"github.com/ndrsec/ndrsec/internal/models"
)

// DirLoader загружает правила из каталога YAML-файлов
type DirLoader struct {
	dir    string
	logger *logging.Logger
}

// NewDirLoader создает загрузчик правил из каталога // v1.0
func NewDirLoader(dir string, logger *logging.Logger) *DirLoader {
	return &DirLoader{
		dir:    dir,
		logger: logger,
	}
}

// Load читает и разбирает все правила каталога. Любой битый файл
// отклоняет загрузку целиком: частично примененный набор правил
// хуже устаревшего.
func (l *DirLoader) Load() ([]*models.Rule, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory %s: %w", l.dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(l.dir, entry.Name()))
		}
	}
	sort.Strings(files)

	seen := make(map[string]string)
	var result []*models.Rule
	now := time.Now()

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file %s: %w", file, err)
		}

		parsed, err := dsl.ParseRule(data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorCodeRuleConfig, "invalid rule file").
				AddDetail("file", file)
		}

		if prev, dup := seen[parsed.ID]; dup {
			return nil, errors.RuleConfigError(parsed.ID, "duplicate rule id").
				AddDetail("file", file).
				AddDetail("previous_file", prev)
		}
		seen[parsed.ID] = file

		result = append(result, &models.Rule{
			ID:        parsed.ID,
			Name:      parsed.Name,
			Version:   1,
			YAML:      string(data),
			Enabled:   parsed.Enabled,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	l.logger.WithField("dir", l.dir).
		WithField("rules", len(result)).
		Info("Rules loaded from directory")
	return result, nil
}

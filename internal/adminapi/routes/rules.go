// filename: internal/adminapi/routes/rules.go
package routes

import (
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ndrsec/ndrsec/internal/common/errors"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator"
	"github.com/ndrsec/ndrsec/internal/correlator/dsl"
)

// RulesHandler обработчик управления правилами корреляции // v1.0
type RulesHandler struct {
	service *correlator.Service
	logger  *logging.Logger
}

// NewRulesHandler создает новый обработчик правил // v1.0
func NewRulesHandler(service *correlator.Service, logger *logging.Logger) *RulesHandler {
	return &RulesHandler{
		service: service,
		logger:  logger,
	}
}

// GetRules возвращает список включенных правил // v1.0
func (h *RulesHandler) GetRules(c *gin.Context) {
	ids := h.service.Registry().RuleIDs()
	sort.Strings(ids)

	rules := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		compiled, ok := h.service.GetRule(id)
		if !ok {
			continue
		}
		rules = append(rules, gin.H{
			"id":          compiled.Rule.ID,
			"name":        compiled.Rule.Name,
			"severity":    compiled.Rule.Severity,
			"strategy":    string(compiled.Rule.Strategy()),
			"event_types": compiled.Rule.EventTypes,
			"window":      compiled.Rule.Window.String(),
			"threshold":   compiled.Rule.EffectiveThreshold(),
			"version":     compiled.Version,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"rules":     rules,
		"total":     len(rules),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetRuleByID возвращает правило по ID // v1.0
func (h *RulesHandler) GetRuleByID(c *gin.Context) {
	id := c.Param("id")

	compiled, ok := h.service.GetRule(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Rule not found",
			"id":    id,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule":      compiled.Rule,
		"version":   compiled.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetRuleStats возвращает статистику исполнения правила // v1.0
func (h *RulesHandler) GetRuleStats(c *gin.Context) {
	id := c.Param("id")

	compiled, ok := h.service.GetRule(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Rule not found",
			"id":    id,
		})
		return
	}

	stats := compiled.Stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"rule_id":   id,
		"stats":     &stats,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// UpsertRule сохраняет правило из YAML-тела запроса // v1.0
func (h *RulesHandler) UpsertRule(c *gin.Context) {
	yamlData, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	rule, err := h.service.UpsertRule(c.Request.Context(), yamlData)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      rule.ID,
		"name":    rule.Name,
		"version": rule.Version,
		"enabled": rule.Enabled,
	})
}

// ValidateRule проверяет YAML правила без сохранения // v1.0
func (h *RulesHandler) ValidateRule(c *gin.Context) {
	yamlData, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	parsed, err := dsl.ParseRule(yamlData)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"id":       parsed.ID,
		"name":     parsed.Name,
		"strategy": string(parsed.Strategy()),
	})
}

// DisableRule отключает правило // v1.0
func (h *RulesHandler) DisableRule(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.DisableRule(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       id,
		"disabled": true,
	})
}

// ReloadRules перечитывает правила из настроенных источников // v1.0
func (h *RulesHandler) ReloadRules(c *gin.Context) {
	if err := h.service.ReloadRules(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reloaded":  true,
		"total":     len(h.service.Registry().RuleIDs()),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// writeError транслирует коды ошибок движка в HTTP статусы // v1.0
func (h *RulesHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.GetErrorCode(err) {
	case errors.ErrorCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrorCodeRuleConfig, errors.ErrorCodeValidation:
		status = http.StatusBadRequest
	}

	h.logger.WithError(err).Warn("Admin API request failed")
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  string(errors.GetErrorCode(err)),
	})
}

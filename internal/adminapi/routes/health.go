// filename: internal/adminapi/routes/health.go
package routes

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator"
)

// HealthHandler обработчик для проверки здоровья сервиса // v1.0
type HealthHandler struct {
	service   *correlator.Service
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler создает новый обработчик здоровья // v1.0
func NewHealthHandler(service *correlator.Service, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		service:   service,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HealthCheck проверяет общее состояние сервиса // v1.0
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	uptime := time.Since(h.startTime)

	health := gin.H{
		"status":    "healthy",
		"service":   "ndrsec-correlator",
		"version":   "1.0.0",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    formatDuration(uptime),
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck проверяет готовность сервиса к работе // v1.0
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	components := h.service.Health(c.Request.Context())

	overallReady := true
	for _, ok := range components {
		if !ok {
			overallReady = false
			break
		}
	}

	response := gin.H{
		"ready":      overallReady,
		"service":    "ndrsec-correlator",
		"timestamp":  time.Now().Format(time.RFC3339),
		"components": components,
	}

	httpStatus := http.StatusOK
	if !overallReady {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, response)
}

// LivenessCheck проверяет жизнеспособность сервиса // v1.0
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	response := gin.H{
		"alive":     true,
		"service":   "ndrsec-correlator",
		"timestamp": time.Now().Format(time.RFC3339),
		"pid":       os.Getpid(),
	}

	c.JSON(http.StatusOK, response)
}

// Stats возвращает статистику движка корреляции // v1.0
func (h *HealthHandler) Stats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := gin.H{
		"service":   "ndrsec-correlator",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    formatDuration(time.Since(h.startTime)),
		"engine":    h.service.GetStats(),
		"system": gin.H{
			"go_version":  runtime.Version(),
			"go_routines": runtime.NumGoroutine(),
			"num_cpu":     runtime.NumCPU(),
			"memory": gin.H{
				"alloc":  formatBytes(m.Alloc),
				"sys":    formatBytes(m.Sys),
				"num_gc": m.NumGC,
			},
		},
	}

	c.JSON(http.StatusOK, response)
}

// formatBytes форматирует байты в читаемый вид // v1.0
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration форматирует duration в читаемый вид // v1.0
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// filename: internal/adminapi/routes/routes_test.go
package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ndrsec/ndrsec/internal/common/logging"
)

func createTestLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(logging.Config{
		Level:  "error",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func TestValidateRuleEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRulesHandler(nil, createTestLogger(t))

	router := gin.New()
	router.POST("/rules/validate", handler.ValidateRule)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{
			name: "valid rule",
			body: `id: rule_1
name: Test
severity: high
event_types:
  - netflow
window: 1m
threshold: 5
`,
			valid: true,
		},
		{name: "missing window", body: "id: rule_1\nname: Test\nseverity: high\nevent_types: [netflow]", valid: false},
		{name: "not yaml", body: "{{{", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rules/validate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", rec.Code)
			}
			var response map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if response["valid"] != tt.valid {
				t.Errorf("Expected valid=%v, got %v (%s)", tt.valid, response["valid"], rec.Body.String())
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    uint64
		expected string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
		}
	}
}

// filename: internal/rules/loader_test.go
package rules

import (
	"os"
	"path/filepath"
	"testing"

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

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write rule file: %v", err)
	}
}

const validRule = `id: rule_ssh
name: SSH bruteforce
severity: high
event_types:
  - auth
window: 2m
threshold: 10
correlation_key:
  - source_ip
`

func TestDirLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "ssh.yaml", validRule)
	writeRuleFile(t, dir, "dns.yml", `id: rule_dns
name: DNS flood
severity: medium
event_types:
  - dns
window: 1m
threshold: 500
correlation_key:
  - source_ip
`)
	// Посторонние файлы игнорируются
	writeRuleFile(t, dir, "readme.txt", "not a rule")

	loaded, err := NewDirLoader(dir, createTestLogger(t)).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(loaded))
	}

	// Файлы читаются в лексикографическом порядке
	if loaded[0].ID != "rule_dns" || loaded[1].ID != "rule_ssh" {
		t.Errorf("Unexpected rule order: %s, %s", loaded[0].ID, loaded[1].ID)
	}
	if loaded[0].Version != 1 || !loaded[0].Enabled {
		t.Error("Directory rules must start enabled at version 1")
	}
	if loaded[1].YAML != validRule {
		t.Error("Rule must retain its raw YAML")
	}
}

func TestDirLoaderRejectsBrokenFileWholesale(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "good.yaml", validRule)
	writeRuleFile(t, dir, "broken.yaml", "id: rule_broken\nname: no window")

	if _, err := NewDirLoader(dir, createTestLogger(t)).Load(); err == nil {
		t.Fatal("Broken rule file must reject the whole load")
	}
}

func TestDirLoaderRejectsDuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "first.yaml", validRule)
	writeRuleFile(t, dir, "second.yaml", validRule)

	if _, err := NewDirLoader(dir, createTestLogger(t)).Load(); err == nil {
		t.Fatal("Duplicate rule id must reject the whole load")
	}
}

func TestDirLoaderMissingDirectory(t *testing.T) {
	if _, err := NewDirLoader("/nonexistent/rules", createTestLogger(t)).Load(); err == nil {
		t.Fatal("Missing directory must fail")
	}
}

func TestDirLoaderEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	loaded, err := NewDirLoader(dir, createTestLogger(t)).Load()
	if err != nil {
		t.Fatalf("Load of empty directory failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expected no rules, got %d", len(loaded))
	}
}

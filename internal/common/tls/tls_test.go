// filename: internal/common/tls/tls_test.go
package tls

import (
	"crypto/tls"
	"path/filepath"
	"testing"
)

func generateTestCert(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	if err := GenerateSelfSignedCert("correlator.local", certFile, keyFile, 1); err != nil {
		t.Fatalf("Failed to generate certificate: %v", err)
	}
	return certFile, keyFile
}

func TestGenerateAndValidateCert(t *testing.T) {
	certFile, _ := generateTestCert(t)
	if err := ValidateCertificate(certFile); err != nil {
		t.Errorf("Fresh certificate must validate: %v", err)
	}
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile := generateTestCert(t)

	tlsConfig, err := LoadServerConfig(Config{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Error("Expected loaded certificate")
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("Expected default min version TLS 1.2, got %x", tlsConfig.MinVersion)
	}
	if tlsConfig.ClientAuth != tls.NoClientCert {
		t.Error("Expected no client auth by default")
	}
}

func TestLoadServerConfigRejects(t *testing.T) {
	if _, err := LoadServerConfig(Config{Enabled: false}); err == nil {
		t.Error("Disabled TLS must be rejected")
	}
	if _, err := LoadServerConfig(Config{Enabled: true}); err == nil {
		t.Error("Missing cert and key must be rejected")
	}
	if _, err := LoadServerConfig(Config{Enabled: true, CertFile: "/no/cert", KeyFile: "/no/key"}); err == nil {
		t.Error("Unreadable cert files must be rejected")
	}
}

func TestParseClientAuthModes(t *testing.T) {
	tests := []struct {
		mode     string
		expected tls.ClientAuthType
	}{
		{"", tls.NoClientCert},
		{"request", tls.RequestClientCert},
		{"require", tls.RequireAnyClientCert},
		{"verify", tls.VerifyClientCertIfGiven},
		{"require_and_verify", tls.RequireAndVerifyClientCert},
		{"unknown", tls.NoClientCert},
	}
	for _, tt := range tests {
		if got := parseClientAuth(tt.mode); got != tt.expected {
			t.Errorf("parseClientAuth(%q) = %v, want %v", tt.mode, got, tt.expected)
		}
	}
}

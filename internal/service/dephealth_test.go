// dephealth_test.go — unit-тесты для вспомогательных функций мониторинга зависимостей.
package service

import (
	"testing"
	"time"
)

// TestHealthPath проверяет извлечение health path из URL зависимости.
func TestHealthPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback string
		expected string
	}{
		{
			name:     "JWKS endpoint IdP",
			input:    "https://idp.example.com/realms/loandesk/protocol/openid-connect/certs",
			fallback: "/",
			expected: "/realms/loandesk/protocol/openid-connect/certs",
		},
		{
			name:     "URL без path — fallback",
			input:    "http://minio:9000",
			fallback: "/minio/health/live",
			expected: "/minio/health/live",
		},
		{
			name:     "некорректный URL — fallback",
			input:    "http://[::1",
			fallback: "/health",
			expected: "/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := healthPath(tt.input, tt.fallback); got != tt.expected {
				t.Errorf("healthPath(%q) = %q, ожидалось %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestHTTPDependencyOptions проверяет набор опций для http и https.
func TestHTTPDependencyOptions(t *testing.T) {
	plain := httpDependencyOptions("http://minio:9000", s3HealthPath, 15*time.Second, false)
	secure := httpDependencyOptions("https://minio:9000", s3HealthPath, 15*time.Second, false)

	if len(secure) != len(plain)+1 {
		t.Errorf("для https ожидалась дополнительная TLS-опция: http=%d, https=%d", len(plain), len(secure))
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADSERVER_RETRY_ATTEMPTS", "")
	t.Setenv("VIRTUAL_HOST_HEADER", "")

	cfg := Load()
	if cfg.AdServerRetryAttempts != 3 {
		t.Fatalf("expected 3 retry attempts, got %d", cfg.AdServerRetryAttempts)
	}
	if cfg.VirtualHostHeader != "Apx-Incoming-Host" {
		t.Fatalf("unexpected virtual host header %q", cfg.VirtualHostHeader)
	}
	if cfg.TenantHeader != "x-adcp-tenant" {
		t.Fatalf("unexpected tenant header %q", cfg.TenantHeader)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADSERVER_TIMEOUT", "3")
	t.Setenv("ADSERVER_RETRY_INITIAL_BACKOFF", "50ms")
	t.Setenv("AUDIT_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg := Load()
	if cfg.AdServerTimeout != 3*time.Second {
		t.Fatalf("expected numeric seconds to parse, got %v", cfg.AdServerTimeout)
	}
	if cfg.AdServerRetryInitialBackoff != 50*time.Millisecond {
		t.Fatalf("expected 50ms, got %v", cfg.AdServerRetryInitialBackoff)
	}
	if !cfg.AuditEnabled {
		t.Fatalf("expected audit enabled")
	}
	if cfg.TracingSampleRate != 0.25 {
		t.Fatalf("expected 0.25 sample rate, got %v", cfg.TracingSampleRate)
	}
	if cfg.DBMaxOpenConns != 25 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.DBMaxOpenConns)
	}
}

func TestLoadAdServerTokens(t *testing.T) {
	t.Setenv("ADSERVER_TOKEN", "shared")
	t.Setenv("ADSERVER_NETWORK_TOKENS", "1234=tok-a, 5678=tok-b,bad,=x")

	cfg := Load()
	if cfg.AdServerToken != "shared" {
		t.Fatalf("unexpected default token %q", cfg.AdServerToken)
	}
	if len(cfg.AdServerNetworkTokens) != 2 || cfg.AdServerNetworkTokens["1234"] != "tok-a" || cfg.AdServerNetworkTokens["5678"] != "tok-b" {
		t.Fatalf("unexpected network tokens %v", cfg.AdServerNetworkTokens)
	}
}

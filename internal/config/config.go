package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string

	// Persistence: "postgres" in production, "sqlite" for single-process local runs
	StoreDriver string
	PostgresDSN string
	SQLitePath  string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Redis caches custom targeting key bindings
	RedisAddr       string
	BindingCacheTTL time.Duration

	// Audit trail
	AuditEnabled  bool
	ClickHouseDSN string

	// Foreign ad server adapter
	AdServerURL                 string
	AdServerTimeout             time.Duration
	AdServerRetryAttempts       int
	AdServerRetryInitialBackoff time.Duration
	AdServerRateLimitCapacity   int
	AdServerRateLimitRefill     int
	// AdServerToken is the credential for networks without their own token
	AdServerToken         string
	AdServerNetworkTokens map[string]string

	// Tenant resolution
	VirtualHostHeader string
	TenantHeader      string
	BaseDomain        string
	TokenSecret       string
	TokenTTL          time.Duration

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8080")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 30*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "salesagent")

	cfg.StoreDriver = getenv("STORE_DRIVER", "postgres")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/salesagent?sslmode=disable")
	cfg.SQLitePath = getenv("SQLITE_PATH", "salesagent.db")
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// empty address disables the binding cache
	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.BindingCacheTTL = envDuration("BINDING_CACHE_TTL", 10*time.Minute)

	cfg.AuditEnabled = envBool("AUDIT_ENABLED", false)
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default")

	// empty URL selects the in-memory adapter
	cfg.AdServerURL = getenv("ADSERVER_URL", "")
	cfg.AdServerTimeout = envDuration("ADSERVER_TIMEOUT", 10*time.Second)
	cfg.AdServerRetryAttempts = envInt("ADSERVER_RETRY_ATTEMPTS", 3)
	cfg.AdServerRetryInitialBackoff = envDuration("ADSERVER_RETRY_INITIAL_BACKOFF", 200*time.Millisecond)
	cfg.AdServerRateLimitCapacity = envInt("ADSERVER_RATE_LIMIT_CAPACITY", 20)
	cfg.AdServerRateLimitRefill = envInt("ADSERVER_RATE_LIMIT_REFILL", 5)
	cfg.AdServerToken = getenv("ADSERVER_TOKEN", "")
	cfg.AdServerNetworkTokens = envMap("ADSERVER_NETWORK_TOKENS")

	cfg.VirtualHostHeader = getenv("VIRTUAL_HOST_HEADER", "Apx-Incoming-Host")
	cfg.TenantHeader = getenv("TENANT_HEADER", "x-adcp-tenant")
	cfg.BaseDomain = getenv("BASE_DOMAIN", "sales-agent.example.com")
	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 24*time.Hour)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envMap parses a comma separated list of key=value pairs. Malformed
// entries are skipped. Returns nil when the variable is unset.
func envMap(key string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || val == "" {
			continue
		}
		m[k] = val
	}
	return m
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServiceName      string
	CoreDatabaseURL  string
	DatabaseMaxConns int32
	HTTPListenAddr   string
	MetricsAddr      string
	LogLevel         string

	TemporalAddress       string
	TemporalNamespace     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// RedisURL enables the cross-process progress broker. Empty keeps
	// progress fan-out inside one process.
	RedisURL string

	ProviderURL           string
	ProviderAPIKey        string
	ProviderWebhookSecret string
	// ProviderRateLimit is the sustained provider API request rate per second.
	ProviderRateLimit float64
	// CallbackURL is the public URL of the provider event endpoint, passed to
	// the provider on every deploy.
	CallbackURL string

	// AllowedOrigins are the host patterns browsers may open progress
	// WebSockets from. Empty allows same-origin only.
	AllowedOrigins []string

	PolicyFile string
	Policy     Policy
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:           getEnv("SERVICE_NAME", ""),
		CoreDatabaseURL:       getEnv("CORE_DATABASE_URL", ""),
		HTTPListenAddr:        getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9090"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace:     getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		ProviderURL:           getEnv("PROVIDER_URL", ""),
		ProviderAPIKey:        getEnv("PROVIDER_API_KEY", ""),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		CallbackURL:           getEnv("CALLBACK_URL", ""),
		PolicyFile:            getEnv("POLICY_FILE", ""),
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "")),
		Policy:                DefaultPolicy(),
	}

	rate, err := strconv.ParseFloat(getEnv("PROVIDER_RATE_LIMIT", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("parse PROVIDER_RATE_LIMIT: %w", err)
	}
	cfg.ProviderRateLimit = rate

	maxConns, err := strconv.ParseInt(getEnv("DATABASE_MAX_CONNS", "0"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_MAX_CONNS: %w", err)
	}
	cfg.DatabaseMaxConns = int32(maxConns)

	if cfg.PolicyFile != "" {
		if err := cfg.Policy.LoadFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks that every setting the given binary needs is present and
// reports all missing keys at once.
func (c *Config) Validate(service string) error {
	var missing []string
	require := func(value, key string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch service {
	case "core-api":
		require(c.CoreDatabaseURL, "CORE_DATABASE_URL")
		require(c.TemporalAddress, "TEMPORAL_ADDRESS")
		require(c.HTTPListenAddr, "HTTP_LISTEN_ADDR")
		require(c.ProviderURL, "PROVIDER_URL")
		require(c.ProviderWebhookSecret, "PROVIDER_WEBHOOK_SECRET")
	case "worker":
		require(c.CoreDatabaseURL, "CORE_DATABASE_URL")
		require(c.TemporalAddress, "TEMPORAL_ADDRESS")
		require(c.ProviderURL, "PROVIDER_URL")
		require(c.CallbackURL, "CALLBACK_URL")
	case "orgappctl":
		require(c.CoreDatabaseURL, "CORE_DATABASE_URL")
	default:
		return fmt.Errorf("unknown service %q", service)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if c.ProviderRateLimit <= 0 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT must be positive")
	}

	return c.Policy.Validate()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

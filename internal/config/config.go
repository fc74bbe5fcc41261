// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, vendor
// credentials, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "wecom-passbot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WeComConfig carries the messaging-platform credentials and callback keys.
type WeComConfig struct {
	CorpID            string        // WECHAT_CORP_ID
	CorpSecret        string        // WECHAT_CORP_SECRET
	CallbackToken     string        // WECHAT_TOKEN (callback signature secret)
	EncodingAESKey    string        // WECHAT_ENCODING_AES_KEY (43 chars)
	OpenKFID          string        // WECHAT_OPEN_KFID (KF account for private messages)
	WelcomeTemplateID string        // WECOM_GROUP_WELCOME_TEMPLATE_ID (fallback broadcast; empty disables)
	VerifyFilename    string        // WECOM_VERIFY_FILENAME (domain verification file)
	VerifyDir         string        // WECOM_VERIFY_DIR (directory holding the file)
	TokenTTL          time.Duration // WECOM_TOKEN_TTL (access-token cache lifetime)
	Timeout           time.Duration // WECOM_HTTP_TIMEOUT (per outbound call)
}

// Pass2UConfig carries the pass-issuing API credentials.
type Pass2UConfig struct {
	BaseURL    string        // PASS2U_BASE
	APIKey     string        // PASS2U_API_KEY
	AuthHeader string        // PASS2U_AUTH_HEADER
	AuthScheme string        // PASS2U_AUTH_SCHEME
	ModelID    string        // PASS2U_MODEL_ID
	UTMSource  string        // PASS2U_UTM_SOURCE
	Timeout    time.Duration // PASS2U_HTTP_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath          string // assignment-tracking SQLite path
	InventoryDBPath string // inventory-pool SQLite path
	PublicBaseURL   string // externally reachable origin (diagnostics only)
	AdminToken      string // shared secret for /admin endpoints; empty disables auth

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Vendors
	WeCom  WeComConfig
	Pass2U Pass2UConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:          getenv("DB_PATH", "bot.db"),
		InventoryDBPath: getenv("INVENTORY_DB_PATH", "coupons.db"),
		PublicBaseURL:   getenv("PUBLIC_BASE_URL", "http://localhost:8000"),
		AdminToken:      getenv("ADMIN_TOKEN", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 10.0),
		RateBurst: getint("RATE_BURST", 20),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Vendors
		WeCom: WeComConfig{
			CorpID:            getenv("WECHAT_CORP_ID", ""),
			CorpSecret:        getenv("WECHAT_CORP_SECRET", ""),
			CallbackToken:     getenv("WECHAT_TOKEN", ""),
			EncodingAESKey:    getenv("WECHAT_ENCODING_AES_KEY", ""),
			OpenKFID:          getenv("WECHAT_OPEN_KFID", ""),
			WelcomeTemplateID: getenv("WECOM_GROUP_WELCOME_TEMPLATE_ID", ""),
			VerifyFilename:    getenv("WECOM_VERIFY_FILENAME", ""),
			VerifyDir:         getenv("WECOM_VERIFY_DIR", "."),
			TokenTTL:          getdur("WECOM_TOKEN_TTL", 110*time.Minute),
			Timeout:           getdur("WECOM_HTTP_TIMEOUT", 10*time.Second),
		},
		Pass2U: Pass2UConfig{
			BaseURL:    getenv("PASS2U_BASE", "https://api.pass2u.net"),
			APIKey:     getenv("PASS2U_API_KEY", ""),
			AuthHeader: getenv("PASS2U_AUTH_HEADER", "Authorization"),
			AuthScheme: getenv("PASS2U_AUTH_SCHEME", "Bearer"),
			ModelID:    getenv("PASS2U_MODEL_ID", ""),
			UTMSource:  getenv("PASS2U_UTM_SOURCE", "wecom"),
			Timeout:    getdur("PASS2U_HTTP_TIMEOUT", 15*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "wecom-passbot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.InventoryDBPath) == "" {
		return cfg, errors.New("INVENTORY_DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.WeCom.EncodingAESKey != "" && len(cfg.WeCom.EncodingAESKey) != 43 {
		return cfg, errors.New("WECHAT_ENCODING_AES_KEY must be exactly 43 characters")
	}
	if cfg.WeCom.TokenTTL <= 0 {
		return cfg, errors.New("WECOM_TOKEN_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

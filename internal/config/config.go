// Package config loads the bot configuration from environment variables with
// defaults, normalization and validation. It covers the HTTP bridge, storage
// backends, the order backend, the fallback classifier, the chat transport
// and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
)

// Transports.
const (
	TransportHTTP   = "http"
	TransportMatrix = "matrix"
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
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BotConfig holds conversation and order pipeline settings.
type BotConfig struct {
	TriggerWord       string        // TRIGGER_WORD
	CooldownWindow    time.Duration // COOLDOWN_WINDOW
	MaxOrderIDs       int           // MAX_ORDER_IDS
	SupportChannel    string        // SUPPORT_CHANNEL
	SupportContact    string        // SUPPORT_CONTACT
	ProviderDirectory string        // PROVIDER_DIRECTORY (file path)
	SiteURL           string        // SITE_URL
	BackendTimezone   string        // BACKEND_TIMEZONE (IANA name)
}

// PanelConfig points at the order/user REST backend.
type PanelConfig struct {
	BaseURL      string        // PANEL_API_BASE
	AdminBaseURL string        // PANEL_ADMIN_API_BASE
	APIKey       string        // PANEL_API_KEY
	Timeout      time.Duration // PANEL_TIMEOUT
}

// ClassifierConfig configures the language-model fallback.
type ClassifierConfig struct {
	Enabled       bool          // CLASSIFIER_ENABLED
	BaseURL       string        // OPENAI_BASE_URL
	APIKey        string        // OPENAI_API_KEY
	Model         string        // OPENAI_MODEL
	MinConfidence float64       // CLASSIFIER_MIN_CONFIDENCE
	Timeout       time.Duration // CLASSIFIER_TIMEOUT
}

// SecretsConfig names SSM parameters that override API keys when set.
type SecretsConfig struct {
	PanelAPIKeyParam  string // SSM_PANEL_API_KEY_PARAM
	OpenAIAPIKeyParam string // SSM_OPENAI_API_KEY_PARAM
}

// Enabled reports whether any parameter must be resolved.
func (s SecretsConfig) Enabled() bool {
	return s.PanelAPIKeyParam != "" || s.OpenAIAPIKeyParam != ""
}

// MatrixConfig holds the Matrix bot account.
type MatrixConfig struct {
	Homeserver  string // MATRIX_HOMESERVER
	UserID      string // MATRIX_USER_ID
	AccessToken string // MATRIX_ACCESS_TOKEN
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test
	APIBasePath       string

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Persistence
	DBPath        string
	SessionStore  string // memory|sqlite
	CooldownStore string // memory|sqlite|dynamodb
	CooldownTable string // DynamoDB table for cooldowns

	Bot        BotConfig
	Panel      PanelConfig
	Classifier ClassifierConfig
	Secrets    SecretsConfig

	Transport string // http|matrix
	Matrix    MatrixConfig

	// HTTP bridge protection
	RateRPS         float64 // per conversation, tokens per second
	RateBurst       int
	CORS            CORSConfig
	Security        SecurityConfig
	IdempotencyTTL  time.Duration
	BridgeJWTSecret string

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
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DBPath:        getenv("DB_PATH", "orderbot.db"),
		SessionStore:  strings.ToLower(getenv("SESSION_STORE", StoreMemory)),
		CooldownStore: strings.ToLower(getenv("COOLDOWN_STORE", StoreSQLite)),
		CooldownTable: getenv("COOLDOWN_TABLE", ""),

		Bot: BotConfig{
			TriggerWord:       strings.ToLower(strings.TrimSpace(getenv("TRIGGER_WORD", "bot"))),
			CooldownWindow:    getdur("COOLDOWN_WINDOW", 3*time.Hour),
			MaxOrderIDs:       getint("MAX_ORDER_IDS", 50),
			SupportChannel:    getenv("SUPPORT_CHANNEL", ""),
			SupportContact:    getenv("SUPPORT_CONTACT", ""),
			ProviderDirectory: getenv("PROVIDER_DIRECTORY", ""),
			SiteURL:           strings.TrimRight(getenv("SITE_URL", ""), "/"),
			BackendTimezone:   getenv("BACKEND_TIMEZONE", "UTC"),
		},

		Panel: PanelConfig{
			BaseURL:      getenv("PANEL_API_BASE", ""),
			AdminBaseURL: getenv("PANEL_ADMIN_API_BASE", ""),
			APIKey:       getenv("PANEL_API_KEY", ""),
			Timeout:      getdur("PANEL_TIMEOUT", 10*time.Second),
		},

		Classifier: ClassifierConfig{
			Enabled:       getbool("CLASSIFIER_ENABLED", false),
			BaseURL:       getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:        getenv("OPENAI_API_KEY", ""),
			Model:         getenv("OPENAI_MODEL", "gpt-4o-mini"),
			MinConfidence: getfloat("CLASSIFIER_MIN_CONFIDENCE", 0.6),
			Timeout:       getdur("CLASSIFIER_TIMEOUT", 8*time.Second),
		},

		Secrets: SecretsConfig{
			PanelAPIKeyParam:  getenv("SSM_PANEL_API_KEY_PARAM", ""),
			OpenAIAPIKeyParam: getenv("SSM_OPENAI_API_KEY_PARAM", ""),
		},

		Transport: strings.ToLower(getenv("TRANSPORT", TransportHTTP)),
		Matrix: MatrixConfig{
			Homeserver:  getenv("MATRIX_HOMESERVER", ""),
			UserID:      getenv("MATRIX_USER_ID", ""),
			AccessToken: getenv("MATRIX_ACCESS_TOKEN", ""),
		},

		RateRPS:   getfloat("RATE_RPS", 1.0),
		RateBurst: getint("RATE_BURST", 5),
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		IdempotencyTTL:  getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		BridgeJWTSecret: getenv("BRIDGE_JWT_SECRET", ""),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-order-bot"),
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
	if cfg.Bot.TriggerWord == "" {
		cfg.Bot.TriggerWord = "bot"
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	switch cfg.SessionStore {
	case StoreMemory, StoreSQLite:
	default:
		return errors.New("SESSION_STORE must be one of: memory, sqlite")
	}
	switch cfg.CooldownStore {
	case StoreMemory, StoreSQLite:
	case StoreDynamoDB:
		if strings.TrimSpace(cfg.CooldownTable) == "" {
			return errors.New("COOLDOWN_TABLE is required when COOLDOWN_STORE=dynamodb")
		}
	default:
		return errors.New("COOLDOWN_STORE must be one of: memory, sqlite, dynamodb")
	}
	if cfg.Bot.CooldownWindow <= 0 {
		return errors.New("COOLDOWN_WINDOW must be > 0")
	}
	if cfg.Bot.MaxOrderIDs < 1 {
		return errors.New("MAX_ORDER_IDS must be >= 1")
	}
	if strings.TrimSpace(cfg.Bot.SupportChannel) == "" {
		return errors.New("SUPPORT_CHANNEL must not be empty")
	}
	if _, err := time.LoadLocation(cfg.Bot.BackendTimezone); err != nil {
		return errors.New("BACKEND_TIMEZONE must be an IANA time zone name")
	}
	if strings.TrimSpace(cfg.Panel.BaseURL) == "" {
		return errors.New("PANEL_API_BASE must not be empty")
	}
	if cfg.Panel.Timeout <= 0 {
		return errors.New("PANEL_TIMEOUT must be > 0")
	}
	if cfg.Classifier.MinConfidence < 0 || cfg.Classifier.MinConfidence > 1 {
		return errors.New("CLASSIFIER_MIN_CONFIDENCE must be in [0,1]")
	}
	if cfg.Classifier.Enabled && cfg.Classifier.Timeout <= 0 {
		return errors.New("CLASSIFIER_TIMEOUT must be > 0")
	}
	switch cfg.Transport {
	case TransportHTTP:
	case TransportMatrix:
		if cfg.Matrix.Homeserver == "" || cfg.Matrix.UserID == "" || cfg.Matrix.AccessToken == "" {
			return errors.New("MATRIX_HOMESERVER, MATRIX_USER_ID and MATRIX_ACCESS_TOKEN are required for TRANSPORT=matrix")
		}
	default:
		return errors.New("TRANSPORT must be one of: http, matrix")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ---- helpers ----

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
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

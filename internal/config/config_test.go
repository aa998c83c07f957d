package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// requiredEnv sets the variables without usable defaults.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUPPORT_CHANNEL", "!support:example.org")
	t.Setenv("PANEL_API_BASE", "https://panel.example.com/api")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	requiredEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	requiredEnv(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SessionStore != StoreMemory || cfg.CooldownStore != StoreSQLite || cfg.Transport != TransportHTTP {
		t.Fatalf("store/transport defaults: %+v", cfg)
	}
	b := cfg.Bot
	if b.TriggerWord != "bot" || b.CooldownWindow != 3*time.Hour || b.MaxOrderIDs != 50 || b.BackendTimezone != "UTC" {
		t.Fatalf("bot defaults: %+v", b)
	}
	if cfg.Classifier.Enabled || cfg.Classifier.MinConfidence != 0.6 {
		t.Fatalf("classifier defaults: %+v", cfg.Classifier)
	}
	if cfg.Secrets.Enabled() {
		t.Fatalf("no SSM parameters should be configured by default")
	}
	if cfg.BridgeJWTSecret != "" {
		t.Fatalf("bridge auth should be off by default")
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "bot/v2/")

	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("SESSION_STORE", "SQLite")
	t.Setenv("COOLDOWN_STORE", "dynamodb")
	t.Setenv("COOLDOWN_TABLE", "cooldowns")

	t.Setenv("TRIGGER_WORD", "  Helper ")
	t.Setenv("COOLDOWN_WINDOW", "90m")
	t.Setenv("MAX_ORDER_IDS", "20")
	t.Setenv("SUPPORT_CONTACT", "+10000000000")
	t.Setenv("PROVIDER_DIRECTORY", "providers.yaml")
	t.Setenv("SITE_URL", "https://shop.example.com/")
	t.Setenv("BACKEND_TIMEZONE", "Asia/Karachi")

	t.Setenv("PANEL_ADMIN_API_BASE", "https://panel.example.com/admin")
	t.Setenv("PANEL_API_KEY", "k")
	t.Setenv("PANEL_TIMEOUT", "5s")

	t.Setenv("CLASSIFIER_ENABLED", "on")
	t.Setenv("OPENAI_MODEL", "gpt-test")
	t.Setenv("CLASSIFIER_MIN_CONFIDENCE", "0.7")
	t.Setenv("CLASSIFIER_TIMEOUT", "3s")
	t.Setenv("SSM_OPENAI_API_KEY_PARAM", "/bot/openai")

	t.Setenv("TRANSPORT", "Matrix")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@orderbot:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_x")

	t.Setenv("RATE_RPS", "x")      // -> default 1.0
	t.Setenv("RATE_BURST", "nope") // -> default 5
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("IDEMPOTENCY_TTL", "48h")
	t.Setenv("BRIDGE_JWT_SECRET", "s3cret")

	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" ||
		cfg.APIBasePath != "/bot/v2" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" || cfg.SessionStore != StoreSQLite || cfg.CooldownStore != StoreDynamoDB || cfg.CooldownTable != "cooldowns" {
		t.Fatalf("persistence unexpected: %+v", cfg)
	}

	wantBot := BotConfig{
		TriggerWord:       "helper",
		CooldownWindow:    90 * time.Minute,
		MaxOrderIDs:       20,
		SupportChannel:    "!support:example.org",
		SupportContact:    "+10000000000",
		ProviderDirectory: "providers.yaml",
		SiteURL:           "https://shop.example.com",
		BackendTimezone:   "Asia/Karachi",
	}
	if cfg.Bot != wantBot {
		t.Fatalf("bot = %+v, want %+v", cfg.Bot, wantBot)
	}
	if cfg.Panel.AdminBaseURL != "https://panel.example.com/admin" || cfg.Panel.APIKey != "k" || cfg.Panel.Timeout != 5*time.Second {
		t.Fatalf("panel unexpected: %+v", cfg.Panel)
	}
	if !cfg.Classifier.Enabled || cfg.Classifier.Model != "gpt-test" || cfg.Classifier.MinConfidence != 0.7 || cfg.Classifier.Timeout != 3*time.Second {
		t.Fatalf("classifier unexpected: %+v", cfg.Classifier)
	}
	if !cfg.Secrets.Enabled() || cfg.Secrets.OpenAIAPIKeyParam != "/bot/openai" {
		t.Fatalf("secrets unexpected: %+v", cfg.Secrets)
	}
	if cfg.Transport != TransportMatrix || cfg.Matrix.UserID != "@orderbot:example.org" {
		t.Fatalf("transport unexpected: %+v %+v", cfg.Transport, cfg.Matrix)
	}

	if cfg.RateRPS != 1.0 || cfg.RateBurst != 5 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if cfg.IdempotencyTTL != 48*time.Hour || cfg.BridgeJWTSecret != "s3cret" {
		t.Fatalf("bridge settings unexpected: %+v", cfg)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"session store", map[string]string{"SESSION_STORE": "redis"}, "SESSION_STORE"},
		{"cooldown store", map[string]string{"COOLDOWN_STORE": "etcd"}, "COOLDOWN_STORE"},
		{"dynamodb without table", map[string]string{"COOLDOWN_STORE": "dynamodb"}, "COOLDOWN_TABLE"},
		{"cooldown window", map[string]string{"COOLDOWN_WINDOW": "0s"}, "COOLDOWN_WINDOW"},
		{"max order ids", map[string]string{"MAX_ORDER_IDS": "0"}, "MAX_ORDER_IDS"},
		{"support channel", map[string]string{"SUPPORT_CHANNEL": "  "}, "SUPPORT_CHANNEL"},
		{"timezone", map[string]string{"BACKEND_TIMEZONE": "Mars/Olympus"}, "BACKEND_TIMEZONE"},
		{"panel base", map[string]string{"PANEL_API_BASE": "  "}, "PANEL_API_BASE"},
		{"panel timeout", map[string]string{"PANEL_TIMEOUT": "-1s"}, "PANEL_TIMEOUT"},
		{"classifier confidence", map[string]string{"CLASSIFIER_MIN_CONFIDENCE": "1.5"}, "CLASSIFIER_MIN_CONFIDENCE"},
		{"classifier timeout", map[string]string{"CLASSIFIER_ENABLED": "1", "CLASSIFIER_TIMEOUT": "0s"}, "CLASSIFIER_TIMEOUT"},
		{"transport", map[string]string{"TRANSPORT": "smtp"}, "TRANSPORT"},
		{"matrix credentials", map[string]string{"TRANSPORT": "matrix"}, "MATRIX_HOMESERVER"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_EmptyTriggerFallsBack(t *testing.T) {
	requiredEnv(t)
	t.Setenv("TRIGGER_WORD", "   ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Bot.TriggerWord != "bot" {
		t.Fatalf("trigger = %q", cfg.Bot.TriggerWord)
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}
	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}
	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	for in, want := range map[string]string{
		"":      "/",
		"v1":    "/v1",
		"/v1/":  "/v1",
		" / ":   "/",
		"//":    "/",
		"/a/b/": "/a/b",
	} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "SUPPORT_CHANNEL", "PANEL_API_BASE", "TRANSPORT", "COOLDOWN_STORE"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

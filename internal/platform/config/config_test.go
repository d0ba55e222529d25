package config

import (
	"os"
	"testing"
	"time"
)

// Test environment variable keys.
const (
	testEnvPostgresDSN = "POSTGRES_DSN"
	testEnvAppEnv      = "APP_ENV"
	testEnvModel       = "MODEL"
	testEnvNewsDomains = "TG_NEWS_DOMAINS"
)

// Test values.
const (
	testPostgresDSN        = "postgres://localhost/test"
	testErrLoad            = "Load() error = %v"
	testDefaultEnv         = "local"
	testDefaultModel       = "gpt-4o-mini"
	testDefaultDigestModel = "gpt-4.1"
	testDefaultSessionPath = "./tg.session"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()

	t.Setenv(testEnvPostgresDSN, testPostgresDSN)
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv(testEnvPostgresDSN)

	_, err := Load()
	if err == nil {
		t.Error("expected error for missing required env vars")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.PostgresDSN != testPostgresDSN {
		t.Errorf("PostgresDSN = %q, want %q", cfg.PostgresDSN, testPostgresDSN)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnvVars(t)

	// Explicitly unset variables that might be in .env to test actual defaults
	os.Unsetenv(testEnvAppEnv)
	os.Unsetenv(testEnvModel)
	os.Unsetenv("DIGEST_MODEL")
	os.Unsetenv("HEALTH_PORT")
	os.Unsetenv("TG_SESSION_PATH")
	os.Unsetenv("DB_QUEUE_SIZE")
	os.Unsetenv("FETCH_CONCURRENCY")
	os.Unsetenv(testEnvNewsDomains)

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.AppEnv != testDefaultEnv {
		t.Errorf("AppEnv default = %q, want %q", cfg.AppEnv, testDefaultEnv)
	}

	if cfg.Model != testDefaultModel {
		t.Errorf("Model default = %q, want %q", cfg.Model, testDefaultModel)
	}

	if cfg.DigestModel != testDefaultDigestModel {
		t.Errorf("DigestModel default = %q, want %q", cfg.DigestModel, testDefaultDigestModel)
	}

	if cfg.HealthPort != 8080 {
		t.Errorf("HealthPort default = %d, want %d", cfg.HealthPort, 8080)
	}

	if cfg.TGSessionPath != testDefaultSessionPath {
		t.Errorf("TGSessionPath default = %q, want %q", cfg.TGSessionPath, testDefaultSessionPath)
	}

	if cfg.DBQueueSize != 2000 {
		t.Errorf("DBQueueSize default = %d, want %d", cfg.DBQueueSize, 2000)
	}

	if cfg.DBQueueReadWorkers != 10 {
		t.Errorf("DBQueueReadWorkers default = %d, want %d", cfg.DBQueueReadWorkers, 10)
	}

	if cfg.DBQueueWriteWorkers != 3 {
		t.Errorf("DBQueueWriteWorkers default = %d, want %d", cfg.DBQueueWriteWorkers, 3)
	}

	if cfg.FetchConcurrency != 5 {
		t.Errorf("FetchConcurrency default = %d, want %d", cfg.FetchConcurrency, 5)
	}

	if cfg.SchedulerTick != 60*time.Second {
		t.Errorf("SchedulerTick default = %v, want %v", cfg.SchedulerTick, 60*time.Second)
	}

	if cfg.DefaultTimezone != "Europe/Belgrade" {
		t.Errorf("DefaultTimezone default = %q, want %q", cfg.DefaultTimezone, "Europe/Belgrade")
	}

	if len(cfg.TGNewsDomains) == 0 {
		t.Error("TGNewsDomains default should not be empty")
	}
}

func TestLoad_NewsDomains(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv(testEnvNewsDomains, "example.rs,news.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if len(cfg.TGNewsDomains) != 2 {
		t.Fatalf("TGNewsDomains length = %d, want %d", len(cfg.TGNewsDomains), 2)
	}

	if cfg.TGNewsDomains[0] != "example.rs" {
		t.Errorf("TGNewsDomains[0] = %q, want %q", cfg.TGNewsDomains[0], "example.rs")
	}
}

func TestLoad_InvalidNumeric(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("TARGET_CHAT_ID", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Error("expected error for invalid TARGET_CHAT_ID")
	}
}

func TestTelegramAPIConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{name: "both set", cfg: Config{TGAPIID: 12345, TGAPIHash: "abc"}, want: true},
		{name: "missing hash", cfg: Config{TGAPIID: 12345}, want: false},
		{name: "missing id", cfg: Config{TGAPIHash: "abc"}, want: false},
		{name: "neither", cfg: Config{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.TelegramAPIConfigured(); got != tt.want {
				t.Errorf("TelegramAPIConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBotConfigured(t *testing.T) {
	cfg := Config{BotToken: "123:abc", TargetChatID: -100123}
	if !cfg.BotConfigured() {
		t.Error("BotConfigured() = false, want true")
	}

	cfg.TargetChatID = 0
	if cfg.BotConfigured() {
		t.Error("BotConfigured() = true, want false")
	}
}

func TestIsNewsDomain(t *testing.T) {
	cfg := Config{TGNewsDomains: []string{"rts.rs", "b92.net", "balkaninsight.com"}}

	tests := []struct {
		host string
		want bool
	}{
		{host: "rts.rs", want: true},
		{host: "www.rts.rs", want: true},
		{host: "sport.rts.rs", want: true},
		{host: "b92.net", want: true},
		{host: "example.com", want: false},
		{host: "notrts.rs", want: false},
		{host: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := cfg.IsNewsDomain(tt.host); got != tt.want {
				t.Errorf("IsNewsDomain(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

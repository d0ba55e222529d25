package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	// AI provider (OpenAI-compatible wire with a custom access-key header)
	AIAPIKey         string        `env:"AI_API_KEY"`
	AIBaseURL        string        `env:"AI_BASE_URL"`
	AIEnabled        bool          `env:"AI_ENABLED" envDefault:"true"`
	Model            string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	DigestModel      string        `env:"DIGEST_MODEL" envDefault:"gpt-4.1"`
	AIRateLimitRPS   float64       `env:"AI_RATE_LIMIT_RPS" envDefault:"1"`
	AIRequestTimeout time.Duration `env:"AI_REQUEST_TIMEOUT" envDefault:"120s"`

	// Delivery bot
	BotToken     string `env:"BOT_TOKEN"`
	TargetChatID int64  `env:"TARGET_CHAT_ID"`
	SiteBaseURL  string `env:"SITE_BASE_URL"`

	// MTProto deep fetch (optional; telegram_api sources need all three)
	TGAPIID       int    `env:"TG_API_ID"`
	TGAPIHash     string `env:"TG_API_HASH"`
	TGPhone       string `env:"TG_PHONE"`
	TG2FAPassword string `env:"TG_2FA_PASSWORD"`
	TGSessionPath string `env:"TG_SESSION_PATH" envDefault:"./tg.session"`

	// Domains whose articles replace short Telegram previews with full text.
	TGNewsDomains []string `env:"TG_NEWS_DOMAINS" envSeparator:"," envDefault:"euronews.rs,blic.rs,rts.rs,b92.net,danas.rs,politika.rs,novosti.rs,telegraf.rs,alo.rs,kurir.rs,n1info.rs,beta.rs,tanjug.rs,balkaninsight.com,balkaninfo.rs"`

	// HTTP fetching
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	WebFetchRPS      float64       `env:"WEB_FETCH_RPS" envDefault:"2"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY" envDefault:"5"`

	// Headless browser rendering (extraction strategy of last resort)
	BrowserEnabled bool          `env:"BROWSER_ENABLED" envDefault:"false"`
	BrowserTimeout time.Duration `env:"BROWSER_TIMEOUT" envDefault:"30s"`

	// File cache for AI analysis results
	CacheDir         string        `env:"CACHE_DIR" envDefault:"./cache"`
	AnalysisCacheTTL time.Duration `env:"ANALYSIS_CACHE_TTL" envDefault:"24h"`

	// Enrichment
	EnrichBatchSize int `env:"ENRICH_BATCH_SIZE" envDefault:"50"`
	EnrichLimit     int `env:"ENRICH_LIMIT" envDefault:"200"`

	// Scheduler
	SchedulerTick   time.Duration `env:"SCHEDULER_TICK" envDefault:"60s"`
	DefaultTimezone string        `env:"DEFAULT_TIMEZONE" envDefault:"Europe/Belgrade"`

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"20"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// Database queue
	DBQueueSize         int           `env:"DB_QUEUE_SIZE" envDefault:"2000"`
	DBQueueReadWorkers  int           `env:"DB_QUEUE_READ_WORKERS" envDefault:"10"`
	DBQueueWriteWorkers int           `env:"DB_QUEUE_WRITE_WORKERS" envDefault:"3"`
	DBQueueReadConns    int           `env:"DB_QUEUE_READ_CONNS" envDefault:"12"`
	DBQueueWriteConns   int           `env:"DB_QUEUE_WRITE_CONNS" envDefault:"4"`
	DBQueueReadTimeout  time.Duration `env:"DB_QUEUE_READ_TIMEOUT" envDefault:"30s"`
	DBQueueWriteTimeout time.Duration `env:"DB_QUEUE_WRITE_TIMEOUT" envDefault:"60s"`

	// Extraction learning
	ExtractionLearning bool          `env:"EXTRACTION_LEARNING" envDefault:"true"`
	DomainCacheTTL     time.Duration `env:"DOMAIN_CACHE_TTL" envDefault:"1h"`

	// Backup task
	BackupDir      string `env:"BACKUP_DIR" envDefault:"./backups"`
	BackupKeepDays int    `env:"BACKUP_KEEP_DAYS" envDefault:"30"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}

// TelegramAPIConfigured reports whether MTProto credentials are present.
func (c *Config) TelegramAPIConfigured() bool {
	return c.TGAPIID != 0 && c.TGAPIHash != ""
}

// BotConfigured reports whether the delivery bot can be constructed.
func (c *Config) BotConfigured() bool {
	return c.BotToken != "" && c.TargetChatID != 0
}

// IsNewsDomain reports whether host (or one of its parent domains) is in the
// configured news-domain allow-list.
func (c *Config) IsNewsDomain(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))

	for _, d := range c.TGNewsDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}

		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}

	return false
}

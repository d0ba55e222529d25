package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_source_fetches_total",
		Help: "The total number of source fetch attempts",
	}, []string{"source_type", "status"})

	ArticlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_articles_ingested_total",
		Help: "The total number of new articles stored",
	}, []string{"source_type"})

	ArticlesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsagg_articles_deduplicated_total",
		Help: "The total number of fetched items skipped as already known",
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsagg_source_fetch_duration_seconds",
		Help:    "Duration of a single source fetch",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"source_type"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_http_requests_total",
		Help: "Total number of outbound HTTP fetch requests",
	}, []string{"status"})

	HTTPRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsagg_http_retries_total",
		Help: "Total number of retried outbound HTTP requests",
	})

	BrowserRenders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_browser_renders_total",
		Help: "Total number of headless browser page renders",
	}, []string{"status"})

	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_extraction_attempts_total",
		Help: "Total number of content extraction attempts by strategy",
	}, []string{"strategy", "status"})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsagg_extraction_duration_seconds",
		Help:    "Duration of content extraction by strategy",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"strategy"})

	AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_ai_requests_total",
		Help: "Total number of AI completion requests",
	}, []string{"model", "task", "status"})

	AIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsagg_ai_request_duration_seconds",
		Help:    "Duration of AI completion requests",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"model", "task"})

	AITokensPrompt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_ai_tokens_prompt_total",
		Help: "Total number of prompt tokens used",
	}, []string{"model", "task"})

	AITokensCompletion = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_ai_tokens_completion_total",
		Help: "Total number of completion tokens used",
	}, []string{"model", "task"})

	AICacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsagg_ai_cache_hits_total",
		Help: "Total number of analysis responses served from the disk cache",
	})

	AICacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsagg_ai_cache_misses_total",
		Help: "Total number of analysis cache misses",
	})

	ArticlesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_articles_processed_total",
		Help: "Total number of articles run through enrichment",
	}, []string{"status"})

	FilterDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_filter_drops_total",
		Help: "Total number of articles rejected by the content filter",
	}, []string{"reason"})

	AdsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_ads_detected_total",
		Help: "Total number of articles flagged as advertising",
	}, []string{"ad_type"})

	CategoriesAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_categories_assigned_total",
		Help: "Total number of category assignments by mapping source",
	}, []string{"source"})

	EnrichmentBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newsagg_enrichment_backlog_size",
		Help: "Number of unprocessed articles in the database",
	})

	EnrichmentBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsagg_enrichment_batch_duration_seconds",
		Help:    "Duration in seconds to process an enrichment batch",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	})

	DigestsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_digest_posts_total",
		Help: "The total number of digests posted",
	}, []string{"status"})

	DigestParts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsagg_digest_parts",
		Help:    "Number of Telegram messages a digest was split into",
		Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
	})

	ScheduledTaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_scheduled_task_runs_total",
		Help: "Total number of scheduled task executions",
	}, []string{"task", "status"})

	TelegramFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_telegram_fetches_total",
		Help: "Total number of Telegram channel fetch attempts",
	}, []string{"transport", "status"})
)

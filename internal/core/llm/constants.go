package llm

import "time"

const (
	rateLimiterBurst        = 5
	breakerFailureThreshold = 5
	breakerResetTimeout     = time.Minute

	// Unified analysis retry policy.
	analysisAttempts   = 3
	analysisRetryDelay = 2 * time.Second

	// Articles shorter than this are not worth an AI call.
	minAnalyzableContent = 30

	// Prompt preview budgets, in runes.
	analysisPreviewChars = 3500
	datePreviewChars     = 3000
	linkPreviewChars     = 4000

	analysisMaxTokens   = 1000
	analysisTemperature = 0.3

	// Summary acceptance contract.
	minSummaryLength     = 60
	maxSummarySimilarity = 0.80
	similarityWindow     = 1000
	extractiveSummaryCap = 700

	summaryRetryMaxTokens   = 400
	summaryRetryTemperature = 0.5

	// AI ad verdicts below this confidence are ignored.
	adConfidenceThreshold = 0.6

	// Digest compression budgets: a single message vs one part of two.
	digestBudgetSingle = 3400
	digestBudgetSplit  = 2600
	digestMaxTokens    = 1500
	digestTemperature  = 0.4

	categorySummaryMaxChars  = 850
	categorySummaryMaxTokens = 1000
	categorySummaryTemp      = 0.2
	categorySummaryTopP      = 0.9
	categorySummaryFreqPen   = 0.1

	dateExtractionMaxTokens      = 200
	dateExtractionTemperature    = 0.1
	linkExtractionMaxTokens      = 300
	selectorDiscoveryMaxTokens   = 300
	selectorDiscoveryTemperature = 0.1

	// Extraction answers below this confidence are discarded.
	minExtractionConfidence = 0.5

	// Publication dates outside [now-2y, now+1d] are treated as hallucinated.
	dateWindowPast   = 2 * 365 * 24 * time.Hour
	dateWindowFuture = 24 * time.Hour

	// Defaults applied when the model omits optional fields.
	defaultSummaryConfidence  = 0.8
	defaultCategoryConfidence = 0.8
	defaultContentQuality     = 0.7

	maxCategoriesPerArticle = 3

	analysisCachePrefix = "analysis:"
)

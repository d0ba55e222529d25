package extract

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// Memory is the per-domain extraction learning store: which strategies work
// where, which selectors hit, and which domains are currently hopeless and
// in backoff. State is cached in process and written through to the
// domain_memory table.
type Memory struct {
	db       memoryStore
	ai       selectorDiscoverer
	cacheTTL time.Duration
	learning bool
	logger   zerolog.Logger

	mu      sync.Mutex
	domains map[string]*domainState
}

// memoryStore is the slice of the storage layer the memory needs.
type memoryStore interface {
	GetDomainMemory(ctx context.Context, domainName string) (*db.DomainMemoryRecord, error)
	UpsertDomainMemory(ctx context.Context, rec *db.DomainMemoryRecord) error
	RecordExtractionAttempt(ctx context.Context, a *domain.ExtractionAttempt) error
}

// selectorDiscoverer is the slice of the AI client the memory needs.
type selectorDiscoverer interface {
	DiscoverSelectors(ctx context.Context, htmlSample, domainName string) ([]string, error)
}

type domainState struct {
	domain               string
	bestMethod           string
	methods              map[string]*methodStat
	selectors            map[string]float64
	consecutiveFailures  int
	consecutiveSuccesses int
	lastSuccessAt        *time.Time
	allFailedCount       int
	lastAllFailedAt      *time.Time
	lastAnalysisAt       *time.Time
	isStable             bool
	loadedAt             time.Time
}

type methodStat struct {
	Attempts   int     `json:"attempts"`
	Successes  int     `json:"successes"`
	AvgQuality float64 `json:"avg_quality"`
	AvgTimeMS  float64 `json:"avg_time_ms"`
}

// methodStatsBlob is the schema of domain_memory.method_stats. The blob is
// owned by this package; storage treats it as opaque JSON.
type methodStatsBlob struct {
	Methods              map[string]*methodStat `json:"methods"`
	ConsecutiveSuccesses int                    `json:"consecutive_successes"`
	LastSuccessAt        *time.Time             `json:"last_success_at,omitempty"`
}

const (
	// Stability: this many consecutive successes pins the domain to its
	// best method.
	stableSuccessThreshold = 5
	// A failure un-marks stability only when the last success is older
	// than this; one transient miss right after a good run does not.
	stabilityGrace = time.Hour

	// Strategy effectiveness: judged only after this many attempts.
	minAttemptsForJudgement = 5
	ineffectiveFailureRate  = 0.8
	// The browser is expensive enough to keep trying a little longer.
	ineffectiveFailureRateBrowser = 0.95

	// Selector learning.
	selectorRateStep    = 0.1
	selectorInitialRate = 0.5
	maxLearnedSelectors = 10

	// All-strategies-failed backoff: 600s * 1.5^(n-1), capped at six hours.
	backoffBaseSeconds = 600
	backoffFactor      = 1.5
	backoffCapSeconds  = 21600

	// AI selector discovery trigger.
	discoveryMinAttempts = 3
	discoveryMaxSuccess  = 0.3
	discoveryCooldown    = 7 * 24 * time.Hour
)

func NewMemory(db memoryStore, ai selectorDiscoverer, cacheTTL time.Duration, learning bool, logger zerolog.Logger) *Memory {
	return &Memory{
		db:       db,
		ai:       ai,
		cacheTTL: cacheTTL,
		learning: learning,
		logger:   logger.With().Str("component", "extract_memory").Logger(),
		domains:  make(map[string]*domainState),
	}
}

// Plan is the strategy order and learned selectors for one domain.
type Plan struct {
	Strategies []string
	Selectors  []string
	Stable     bool
}

// PlanFor orders the strategies for a domain: a stable domain leads with
// its best method, ineffective methods are dropped, and the direct
// strategy always remains as the last resort.
func (m *Memory) PlanFor(ctx context.Context, domainName string, browserEnabled bool) Plan {
	state := m.state(ctx, domainName)

	order := append([]string(nil), defaultStrategyOrder...)

	if state != nil && state.isStable && state.bestMethod != "" {
		order = leadWith(order, state.bestMethod)
	}

	plan := Plan{Stable: state != nil && state.isStable}

	for _, strategy := range order {
		if strategy == StrategyBrowser && !browserEnabled {
			continue
		}

		if strategy == StrategyLearned && (state == nil || len(state.selectors) == 0) {
			continue
		}

		if strategy != StrategyDirect && state != nil && state.ineffective(strategy) {
			continue
		}

		plan.Strategies = append(plan.Strategies, strategy)
	}

	if len(plan.Strategies) == 0 {
		plan.Strategies = []string{StrategyReadability, StrategyDirect}
	}

	if state != nil {
		plan.Selectors = state.rankedSelectors()
	}

	return plan
}

// LearnedSelectors returns up to max selectors for a domain whose success
// rate is above minRate, best first.
func (m *Memory) LearnedSelectors(ctx context.Context, domainName string, minRate float64, max int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateLocked(ctx, domainName)

	var out []string

	for _, sel := range state.rankedSelectors() {
		if state.selectors[sel] <= minRate {
			break
		}

		out = append(out, sel)
		if len(out) >= max {
			break
		}
	}

	return out
}

// LearnSelectors merges externally discovered selectors (AI page-structure
// analysis) at the given success rate. Selectors already proven at a higher
// rate keep their rate.
func (m *Memory) LearnSelectors(ctx context.Context, domainName string, selectors []string, rate float64) {
	if !m.learning || len(selectors) == 0 {
		return
	}

	if rate < 0 {
		rate = 0
	} else if rate > 1 {
		rate = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateLocked(ctx, domainName)

	for _, s := range selectors {
		if current, known := state.selectors[s]; !known || current < rate {
			state.selectors[s] = rate
		}
	}

	state.trimSelectors()
	m.persistLocked(ctx, state)
}

// InBackoff reports whether the domain's recent all-failed streak puts it
// in the waiting period.
func (m *Memory) InBackoff(ctx context.Context, domainName string) bool {
	state := m.state(ctx, domainName)
	if state == nil || state.allFailedCount == 0 || state.lastAllFailedAt == nil {
		return false
	}

	return time.Now().Before(state.lastAllFailedAt.Add(backoffDuration(state.allFailedCount)))
}

// backoffDuration grows exponentially with the all-failed count.
func backoffDuration(count int) time.Duration {
	if count <= 0 {
		return 0
	}

	seconds := backoffBaseSeconds * math.Pow(backoffFactor, float64(count-1))
	if seconds > backoffCapSeconds {
		seconds = backoffCapSeconds
	}

	return time.Duration(seconds * float64(time.Second))
}

// RecordAttempt updates method stats and selector rates after one strategy
// attempt and writes the audit row. success means the quality gate passed.
func (m *Memory) RecordAttempt(ctx context.Context, a *domain.ExtractionAttempt) {
	if m.learning {
		m.mu.Lock()

		state := m.stateLocked(ctx, a.Domain)
		state.recordMethod(a.Strategy, a.Success, float64(a.QualityScore), float64(a.ExtractionTimeMS))
		state.recordSelector(a.SelectorUsed, a.Success)
		state.recordOutcome(a.Success, time.Now())

		m.persistLocked(ctx, state)
		m.mu.Unlock()
	}

	if err := m.db.RecordExtractionAttempt(ctx, a); err != nil {
		m.logger.Debug().Err(err).Str("domain", a.Domain).Msg("extraction audit write failed")
	}
}

// RecordAllFailed bumps the domain's backoff streak after a fetch where no
// strategy produced acceptable content, and fires AI selector discovery
// when the domain has proven resistant.
func (m *Memory) RecordAllFailed(ctx context.Context, domainName, htmlSample string) {
	if !m.learning {
		return
	}

	m.mu.Lock()

	state := m.stateLocked(ctx, domainName)
	now := time.Now()
	state.allFailedCount++
	state.lastAllFailedAt = &now

	askAI := m.ai != nil && htmlSample != "" && state.shouldAskAI(now)
	if askAI {
		state.lastAnalysisAt = &now
	}

	m.persistLocked(ctx, state)
	m.mu.Unlock()

	if !askAI {
		return
	}

	selectors, err := m.ai.DiscoverSelectors(ctx, htmlSample, domainName)
	if err != nil {
		m.logger.Debug().Err(err).Str("domain", domainName).Msg("selector discovery failed")

		return
	}

	if len(selectors) == 0 {
		return
	}

	m.mu.Lock()

	state = m.stateLocked(ctx, domainName)
	for _, s := range selectors {
		if _, known := state.selectors[s]; !known {
			state.selectors[s] = selectorInitialRate
		}
	}

	state.trimSelectors()
	m.persistLocked(ctx, state)
	m.mu.Unlock()

	m.logger.Info().Str("domain", domainName).Strs("selectors", selectors).Msg("learned selectors from AI analysis")
}

// recordOutcome runs the stability state machine. Five consecutive
// successes pin the domain; a failure un-pins it only when the last
// success is older than the grace period, so one transient miss does not
// throw away a proven strategy.
func (s *domainState) recordOutcome(success bool, now time.Time) {
	if success {
		s.consecutiveFailures = 0
		s.consecutiveSuccesses++
		ts := now
		s.lastSuccessAt = &ts
		s.allFailedCount = 0
		s.lastAllFailedAt = nil

		if s.consecutiveSuccesses >= stableSuccessThreshold {
			s.isStable = true
		}

		s.bestMethod = s.pickBestMethod()

		return
	}

	s.consecutiveFailures++
	s.consecutiveSuccesses = 0

	if s.isStable && (s.lastSuccessAt == nil || now.Sub(*s.lastSuccessAt) > stabilityGrace) {
		s.isStable = false
	}
}

func (s *domainState) shouldAskAI(now time.Time) bool {
	var attempts, successes int

	for _, stat := range s.methods {
		attempts += stat.Attempts
		successes += stat.Successes
	}

	if attempts < discoveryMinAttempts {
		return false
	}

	if float64(successes)/float64(attempts) >= discoveryMaxSuccess {
		return false
	}

	return s.lastAnalysisAt == nil || now.Sub(*s.lastAnalysisAt) > discoveryCooldown
}

func (s *domainState) recordMethod(strategy string, success bool, quality, timeMS float64) {
	stat, ok := s.methods[strategy]
	if !ok {
		stat = &methodStat{}
		s.methods[strategy] = stat
	}

	stat.Attempts++
	if success {
		stat.Successes++
	}

	// Rolling means.
	n := float64(stat.Attempts)
	stat.AvgQuality += (quality - stat.AvgQuality) / n
	stat.AvgTimeMS += (timeMS - stat.AvgTimeMS) / n
}

func (s *domainState) recordSelector(selector string, success bool) {
	if selector == "" {
		return
	}

	rate, known := s.selectors[selector]
	if !known {
		rate = selectorInitialRate
	}

	if success {
		rate = math.Min(rate+selectorRateStep, 1.0)
	} else {
		rate = math.Max(rate-selectorRateStep, 0)
	}

	s.selectors[selector] = rate
	s.trimSelectors()
}

func (s *domainState) trimSelectors() {
	if len(s.selectors) <= maxLearnedSelectors {
		return
	}

	ranked := s.rankedSelectors()
	for _, sel := range ranked[maxLearnedSelectors:] {
		delete(s.selectors, sel)
	}
}

func (s *domainState) rankedSelectors() []string {
	out := make([]string, 0, len(s.selectors))
	for sel := range s.selectors {
		out = append(out, sel)
	}

	sort.Slice(out, func(i, j int) bool {
		if s.selectors[out[i]] != s.selectors[out[j]] {
			return s.selectors[out[i]] > s.selectors[out[j]]
		}

		return out[i] < out[j]
	})

	return out
}

func (s *domainState) pickBestMethod() string {
	best := ""
	bestRate := 0.0

	for _, strategy := range defaultStrategyOrder {
		stat, ok := s.methods[strategy]
		if !ok || stat.Attempts == 0 {
			continue
		}

		rate := float64(stat.Successes) / float64(stat.Attempts)
		if rate > bestRate {
			best = strategy
			bestRate = rate
		}
	}

	return best
}

func (s *domainState) ineffective(strategy string) bool {
	stat, ok := s.methods[strategy]
	if !ok || stat.Attempts < minAttemptsForJudgement {
		return false
	}

	failureRate := 1 - float64(stat.Successes)/float64(stat.Attempts)

	threshold := ineffectiveFailureRate
	if strategy == StrategyBrowser {
		threshold = ineffectiveFailureRateBrowser
	}

	return failureRate >= threshold
}

func (m *Memory) state(ctx context.Context, domainName string) *domainState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stateLocked(ctx, domainName)
}

func (m *Memory) stateLocked(ctx context.Context, domainName string) *domainState {
	domainName = strings.ToLower(domainName)

	state, ok := m.domains[domainName]
	if ok && time.Since(state.loadedAt) < m.cacheTTL {
		return state
	}

	loaded := m.loadState(ctx, domainName)
	if loaded == nil {
		if ok {
			// DB unreachable: keep serving the stale entry.
			return state
		}

		loaded = newDomainState(domainName)
	}

	m.domains[domainName] = loaded

	return loaded
}

func newDomainState(domainName string) *domainState {
	return &domainState{
		domain:    domainName,
		methods:   make(map[string]*methodStat),
		selectors: make(map[string]float64),
		loadedAt:  time.Now(),
	}
}

func (m *Memory) loadState(ctx context.Context, domainName string) *domainState {
	rec, err := m.db.GetDomainMemory(ctx, domainName)
	if err != nil {
		m.logger.Debug().Err(err).Str("domain", domainName).Msg("domain memory load failed")

		return nil
	}

	state := newDomainState(domainName)
	if rec == nil {
		return state
	}

	state.bestMethod = rec.BestMethod
	state.consecutiveFailures = rec.ConsecutiveFailures
	state.allFailedCount = rec.AllFailedCount
	state.lastAllFailedAt = rec.LastAllFailedAt
	state.lastAnalysisAt = rec.LastAnalysisAt
	state.isStable = rec.IsStable

	var blob methodStatsBlob
	if len(rec.MethodStats) > 0 {
		if err := json.Unmarshal(rec.MethodStats, &blob); err == nil {
			if blob.Methods != nil {
				state.methods = blob.Methods
			}

			state.consecutiveSuccesses = blob.ConsecutiveSuccesses
			state.lastSuccessAt = blob.LastSuccessAt
		}
	}

	if len(rec.Selectors) > 0 {
		var selectors map[string]float64
		if err := json.Unmarshal(rec.Selectors, &selectors); err == nil && selectors != nil {
			state.selectors = selectors
		}
	}

	return state
}

func (m *Memory) persistLocked(ctx context.Context, state *domainState) {
	methodStats, err := json.Marshal(methodStatsBlob{
		Methods:              state.methods,
		ConsecutiveSuccesses: state.consecutiveSuccesses,
		LastSuccessAt:        state.lastSuccessAt,
	})
	if err != nil {
		m.logger.Debug().Err(err).Str("domain", state.domain).Msg("method stats marshal failed")

		return
	}

	selectors, err := json.Marshal(state.selectors)
	if err != nil {
		m.logger.Debug().Err(err).Str("domain", state.domain).Msg("selectors marshal failed")

		return
	}

	rec := &db.DomainMemoryRecord{
		Domain:              state.domain,
		BestMethod:          state.bestMethod,
		MethodStats:         methodStats,
		Selectors:           selectors,
		ConsecutiveFailures: state.consecutiveFailures,
		AllFailedCount:      state.allFailedCount,
		LastAllFailedAt:     state.lastAllFailedAt,
		LastAnalysisAt:      state.lastAnalysisAt,
		IsStable:            state.isStable,
	}

	if err := m.db.UpsertDomainMemory(ctx, rec); err != nil {
		m.logger.Debug().Err(err).Str("domain", state.domain).Msg("domain memory persist failed")
	}
}

func leadWith(order []string, first string) []string {
	out := make([]string, 0, len(order))
	out = append(out, first)

	for _, s := range order {
		if s != first {
			out = append(out, s)
		}
	}

	return out
}

package extract

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

type fakeMemoryStore struct {
	records  map[string]*db.DomainMemoryRecord
	attempts []*domain.ExtractionAttempt
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{records: make(map[string]*db.DomainMemoryRecord)}
}

func (f *fakeMemoryStore) GetDomainMemory(_ context.Context, domainName string) (*db.DomainMemoryRecord, error) {
	return f.records[domainName], nil
}

func (f *fakeMemoryStore) UpsertDomainMemory(_ context.Context, rec *db.DomainMemoryRecord) error {
	f.records[rec.Domain] = rec

	return nil
}

func (f *fakeMemoryStore) RecordExtractionAttempt(_ context.Context, a *domain.ExtractionAttempt) error {
	f.attempts = append(f.attempts, a)

	return nil
}

type fakeDiscoverer struct {
	selectors []string
	calls     int
}

func (f *fakeDiscoverer) DiscoverSelectors(_ context.Context, _, _ string) ([]string, error) {
	f.calls++

	return f.selectors, nil
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  time.Duration
	}{
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"first", 1, 600 * time.Second},
		{"second", 2, 900 * time.Second},
		{"third", 3, 1350 * time.Second},
		{"fifth", 5, 3037*time.Second + 500*time.Millisecond},
		{"capped", 10, 21600 * time.Second},
		{"far past cap", 100, 21600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDuration(tt.count); got != tt.want {
				t.Errorf("backoffDuration(%d) = %v, want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestRecordSelector(t *testing.T) {
	st := newDomainState("example.com")

	st.recordSelector("article", true)

	if got := st.selectors["article"]; got != 0.6 {
		t.Errorf("new selector after success = %v, want 0.6", got)
	}

	st.selectors["article"] = 0.95
	st.recordSelector("article", true)

	if got := st.selectors["article"]; got != 1.0 {
		t.Errorf("selector rate not capped at 1.0, got %v", got)
	}

	st.selectors["article"] = 0.05
	st.recordSelector("article", false)

	if got := st.selectors["article"]; got != 0 {
		t.Errorf("selector rate not floored at 0, got %v", got)
	}

	st.recordSelector(".post", false)

	if got := st.selectors[".post"]; got != 0.4 {
		t.Errorf("new selector after failure = %v, want 0.4", got)
	}

	st.recordSelector("", true)

	if _, ok := st.selectors[""]; ok {
		t.Error("empty selector should be ignored")
	}
}

func TestTrimSelectors(t *testing.T) {
	st := newDomainState("example.com")

	selectors := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for i, sel := range selectors {
		st.selectors[sel] = float64(i+1) / 100
	}

	st.trimSelectors()

	if len(st.selectors) != maxLearnedSelectors {
		t.Fatalf("got %d selectors after trim, want %d", len(st.selectors), maxLearnedSelectors)
	}

	for _, dropped := range []string{"a", "b"} {
		if _, ok := st.selectors[dropped]; ok {
			t.Errorf("lowest-rated selector %q should have been dropped", dropped)
		}
	}
}

func TestRankedSelectors(t *testing.T) {
	st := newDomainState("example.com")
	st.selectors["article"] = 0.9
	st.selectors[".post-content"] = 0.4
	st.selectors["div.body"] = 0.4

	got := st.rankedSelectors()
	want := []string{"article", ".post-content", "div.body"}

	if len(got) != len(want) {
		t.Fatalf("got %d selectors, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rankedSelectors[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRecordMethodRollingMeans(t *testing.T) {
	st := newDomainState("example.com")

	st.recordMethod(StrategyEnhanced, true, 60, 100)
	st.recordMethod(StrategyEnhanced, false, 30, 300)

	stat := st.methods[StrategyEnhanced]
	if stat.Attempts != 2 || stat.Successes != 1 {
		t.Errorf("attempts/successes = %d/%d, want 2/1", stat.Attempts, stat.Successes)
	}

	if stat.AvgQuality != 45 {
		t.Errorf("AvgQuality = %v, want 45", stat.AvgQuality)
	}

	if stat.AvgTimeMS != 200 {
		t.Errorf("AvgTimeMS = %v, want 200", stat.AvgTimeMS)
	}
}

func TestRecordOutcomeStability(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	st := newDomainState("example.com")
	st.methods[StrategyReadability] = &methodStat{Attempts: 5, Successes: 5}

	for i := 0; i < stableSuccessThreshold; i++ {
		st.recordOutcome(true, base)
	}

	if !st.isStable {
		t.Fatal("domain should be stable after five consecutive successes")
	}

	if st.bestMethod != StrategyReadability {
		t.Errorf("bestMethod = %q, want %q", st.bestMethod, StrategyReadability)
	}

	// One miss shortly after a success keeps the pin.
	st.recordOutcome(false, base.Add(30*time.Minute))

	if !st.isStable {
		t.Error("stability should survive a failure within the grace period")
	}

	st.recordOutcome(false, base.Add(2*time.Hour))

	if st.isStable {
		t.Error("stability should be dropped when the last success is stale")
	}
}

func TestRecordOutcomeResetsBackoff(t *testing.T) {
	st := newDomainState("example.com")

	failedAt := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
	st.allFailedCount = 3
	st.lastAllFailedAt = &failedAt

	st.recordOutcome(true, failedAt.Add(time.Hour))

	if st.allFailedCount != 0 || st.lastAllFailedAt != nil {
		t.Errorf("success should reset backoff, got count=%d lastAllFailedAt=%v", st.allFailedCount, st.lastAllFailedAt)
	}
}

func TestIneffective(t *testing.T) {
	tests := []struct {
		name      string
		strategy  string
		attempts  int
		successes int
		want      bool
	}{
		{"at threshold", StrategyEnhanced, 5, 1, true},
		{"below threshold", StrategyEnhanced, 8, 2, false},
		{"too few attempts", StrategyEnhanced, 4, 0, false},
		{"unknown strategy", StrategyEnhanced, 0, 0, false},
		{"browser total failure", StrategyBrowser, 16, 0, true},
		{"browser mostly failing", StrategyBrowser, 16, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newDomainState("example.com")
			if tt.attempts > 0 {
				st.methods[tt.strategy] = &methodStat{Attempts: tt.attempts, Successes: tt.successes}
			}

			if got := st.ineffective(tt.strategy); got != tt.want {
				t.Errorf("ineffective(%q) = %v, want %v", tt.strategy, got, tt.want)
			}
		})
	}
}

func TestPickBestMethod(t *testing.T) {
	st := newDomainState("example.com")
	st.methods[StrategyEnhanced] = &methodStat{Attempts: 10, Successes: 3}
	st.methods[StrategyReadability] = &methodStat{Attempts: 4, Successes: 3}
	st.methods[StrategyDirect] = &methodStat{Attempts: 2, Successes: 0}

	if got := st.pickBestMethod(); got != StrategyReadability {
		t.Errorf("pickBestMethod() = %q, want %q", got, StrategyReadability)
	}

	// On a tie the earlier strategy in chain order wins.
	st.methods[StrategyEnhanced] = &methodStat{Attempts: 2, Successes: 1}
	st.methods[StrategyReadability] = &methodStat{Attempts: 4, Successes: 2}
	delete(st.methods, StrategyDirect)

	if got := st.pickBestMethod(); got != StrategyEnhanced {
		t.Errorf("pickBestMethod() tie = %q, want %q", got, StrategyEnhanced)
	}
}

func TestShouldAskAI(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	threeDaysAgo := base.Add(-3 * 24 * time.Hour)
	eightDaysAgo := base.Add(-8 * 24 * time.Hour)

	tests := []struct {
		name           string
		attempts       int
		successes      int
		lastAnalysisAt *time.Time
		want           bool
	}{
		{"too few attempts", 2, 0, nil, false},
		{"success rate at limit", 10, 3, nil, false},
		{"failing and never analyzed", 10, 2, nil, true},
		{"failing but analyzed recently", 10, 2, &threeDaysAgo, false},
		{"failing and analysis stale", 10, 2, &eightDaysAgo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newDomainState("example.com")
			if tt.attempts > 0 {
				st.methods[StrategyEnhanced] = &methodStat{Attempts: tt.attempts, Successes: tt.successes}
			}

			st.lastAnalysisAt = tt.lastAnalysisAt

			if got := st.shouldAskAI(base); got != tt.want {
				t.Errorf("shouldAskAI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanForDefaults(t *testing.T) {
	m := NewMemory(newFakeMemoryStore(), nil, time.Hour, true, zerolog.Nop())

	plan := m.PlanFor(context.Background(), "fresh.example", false)
	want := []string{StrategyEnhanced, StrategyReadability, StrategyCharset, StrategyDirect}

	assertStrategies(t, plan.Strategies, want)

	plan = m.PlanFor(context.Background(), "fresh.example", true)
	want = []string{StrategyEnhanced, StrategyReadability, StrategyBrowser, StrategyCharset, StrategyDirect}

	assertStrategies(t, plan.Strategies, want)
}

func TestPlanForLearnedSelectors(t *testing.T) {
	m := NewMemory(newFakeMemoryStore(), nil, time.Hour, true, zerolog.Nop())

	st := newDomainState("known.example")
	st.selectors["article .text"] = 0.8
	st.selectors[".news-body"] = 0.3
	m.domains["known.example"] = st

	plan := m.PlanFor(context.Background(), "known.example", false)
	want := []string{StrategyLearned, StrategyEnhanced, StrategyReadability, StrategyCharset, StrategyDirect}

	assertStrategies(t, plan.Strategies, want)

	if len(plan.Selectors) != 2 || plan.Selectors[0] != "article .text" {
		t.Errorf("plan.Selectors = %v, want best-first", plan.Selectors)
	}
}

func TestPlanForStableDomain(t *testing.T) {
	m := NewMemory(newFakeMemoryStore(), nil, time.Hour, true, zerolog.Nop())

	st := newDomainState("stable.example")
	st.isStable = true
	st.bestMethod = StrategyReadability
	m.domains["stable.example"] = st

	plan := m.PlanFor(context.Background(), "stable.example", false)
	want := []string{StrategyReadability, StrategyEnhanced, StrategyCharset, StrategyDirect}

	assertStrategies(t, plan.Strategies, want)

	if !plan.Stable {
		t.Error("plan should be marked stable")
	}
}

func TestPlanForSkipsIneffective(t *testing.T) {
	m := NewMemory(newFakeMemoryStore(), nil, time.Hour, true, zerolog.Nop())

	st := newDomainState("hard.example")
	st.methods[StrategyEnhanced] = &methodStat{Attempts: 10, Successes: 1}
	m.domains["hard.example"] = st

	plan := m.PlanFor(context.Background(), "hard.example", false)
	want := []string{StrategyReadability, StrategyCharset, StrategyDirect}

	assertStrategies(t, plan.Strategies, want)
}

func TestInBackoff(t *testing.T) {
	m := NewMemory(newFakeMemoryStore(), nil, time.Hour, true, zerolog.Nop())

	st := newDomainState("slow.example")
	recent := time.Now().Add(-time.Minute)
	st.allFailedCount = 2
	st.lastAllFailedAt = &recent
	m.domains["slow.example"] = st

	if !m.InBackoff(context.Background(), "slow.example") {
		t.Error("domain with a fresh all-failed streak should be in backoff")
	}

	old := time.Now().Add(-time.Hour)
	st.lastAllFailedAt = &old

	// Two failures back off for 900s, an hour is past that.
	if m.InBackoff(context.Background(), "slow.example") {
		t.Error("backoff should have expired")
	}

	if m.InBackoff(context.Background(), "other.example") {
		t.Error("unknown domain should not be in backoff")
	}
}

func TestRecordAttemptPersists(t *testing.T) {
	store := newFakeMemoryStore()
	m := NewMemory(store, nil, time.Hour, true, zerolog.Nop())

	m.RecordAttempt(context.Background(), &domain.ExtractionAttempt{
		ArticleURL:       "https://example.com/a",
		Domain:           "example.com",
		Strategy:         StrategyEnhanced,
		SelectorUsed:     "article",
		Success:          true,
		ContentLength:    1200,
		QualityScore:     70,
		ExtractionTimeMS: 150,
	})

	if len(store.attempts) != 1 {
		t.Fatalf("got %d audit rows, want 1", len(store.attempts))
	}

	rec := store.records["example.com"]
	if rec == nil {
		t.Fatal("domain memory row was not persisted")
	}

	if rec.BestMethod != StrategyEnhanced {
		t.Errorf("BestMethod = %q, want %q", rec.BestMethod, StrategyEnhanced)
	}

	st := m.domains["example.com"]
	if st.selectors["article"] != 0.6 {
		t.Errorf("selector rate = %v, want 0.6", st.selectors["article"])
	}

	if st.consecutiveSuccesses != 1 {
		t.Errorf("consecutiveSuccesses = %d, want 1", st.consecutiveSuccesses)
	}
}

func TestRecordAttemptLearningDisabled(t *testing.T) {
	store := newFakeMemoryStore()
	m := NewMemory(store, nil, time.Hour, false, zerolog.Nop())

	m.RecordAttempt(context.Background(), &domain.ExtractionAttempt{
		Domain:   "example.com",
		Strategy: StrategyEnhanced,
		Success:  true,
	})

	if len(store.attempts) != 1 {
		t.Fatalf("audit row should be written even with learning off, got %d", len(store.attempts))
	}

	if len(store.records) != 0 {
		t.Error("domain memory should not be touched with learning off")
	}
}

func TestRecordAllFailedTriggersDiscovery(t *testing.T) {
	store := newFakeMemoryStore()
	discoverer := &fakeDiscoverer{selectors: []string{".article-text", "article"}}
	m := NewMemory(store, discoverer, time.Hour, true, zerolog.Nop())

	st := newDomainState("hard.example")
	st.methods[StrategyEnhanced] = &methodStat{Attempts: 6, Successes: 1}
	m.domains["hard.example"] = st

	m.RecordAllFailed(context.Background(), "hard.example", "<html><body>sample</body></html>")

	if discoverer.calls != 1 {
		t.Fatalf("discoverer calls = %d, want 1", discoverer.calls)
	}

	if st.allFailedCount != 1 {
		t.Errorf("allFailedCount = %d, want 1", st.allFailedCount)
	}

	if st.selectors[".article-text"] != selectorInitialRate {
		t.Errorf("discovered selector rate = %v, want %v", st.selectors[".article-text"], selectorInitialRate)
	}

	if st.lastAnalysisAt == nil {
		t.Error("lastAnalysisAt should be set after discovery")
	}

	// A second all-failed fetch is inside the analysis cooldown.
	m.RecordAllFailed(context.Background(), "hard.example", "<html></html>")

	if discoverer.calls != 1 {
		t.Errorf("discoverer calls = %d after cooldown check, want 1", discoverer.calls)
	}

	if st.allFailedCount != 2 {
		t.Errorf("allFailedCount = %d, want 2", st.allFailedCount)
	}
}

func TestRecordAllFailedNoSample(t *testing.T) {
	store := newFakeMemoryStore()
	discoverer := &fakeDiscoverer{selectors: []string{"article"}}
	m := NewMemory(store, discoverer, time.Hour, true, zerolog.Nop())

	st := newDomainState("hard.example")
	st.methods[StrategyEnhanced] = &methodStat{Attempts: 6, Successes: 0}
	m.domains["hard.example"] = st

	m.RecordAllFailed(context.Background(), "hard.example", "")

	if discoverer.calls != 0 {
		t.Errorf("discovery should not run without an HTML sample, got %d calls", discoverer.calls)
	}
}

func TestMemoryStateRoundTrip(t *testing.T) {
	store := newFakeMemoryStore()
	m := NewMemory(store, nil, time.Hour, true, zerolog.Nop())

	m.RecordAttempt(context.Background(), &domain.ExtractionAttempt{
		Domain:       "example.com",
		Strategy:     StrategyReadability,
		SelectorUsed: "",
		Success:      true,
		QualityScore: 80,
	})

	// Drop the in-process cache and reload from the store.
	fresh := NewMemory(store, nil, time.Hour, true, zerolog.Nop())
	st := fresh.state(context.Background(), "example.com")

	stat := st.methods[StrategyReadability]
	if stat == nil || stat.Attempts != 1 || stat.Successes != 1 {
		t.Fatalf("reloaded method stats = %+v, want 1/1", stat)
	}

	if st.consecutiveSuccesses != 1 {
		t.Errorf("reloaded consecutiveSuccesses = %d, want 1", st.consecutiveSuccesses)
	}

	if st.lastSuccessAt == nil {
		t.Error("reloaded lastSuccessAt should be set")
	}
}

func TestLearnedSelectors(t *testing.T) {
	m := NewMemory(newFakeMemoryStore(), nil, time.Hour, true, zerolog.Nop())

	st := newDomainState("known.example")
	st.selectors[".news-body"] = 0.9
	st.selectors["article .text"] = 0.8
	st.selectors[".sidebar"] = 0.71
	st.selectors[".footer"] = 0.5
	m.domains["known.example"] = st

	got := m.LearnedSelectors(context.Background(), "known.example", 0.7, 3)
	want := []string{".news-body", "article .text", ".sidebar"}

	if len(got) != len(want) {
		t.Fatalf("selectors = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selectors = %v, want %v", got, want)
		}
	}

	if got := m.LearnedSelectors(context.Background(), "known.example", 0.95, 3); len(got) != 0 {
		t.Errorf("selectors above 0.95 = %v, want none", got)
	}

	if got := m.LearnedSelectors(context.Background(), "unknown.example", 0.7, 3); len(got) != 0 {
		t.Errorf("unknown domain selectors = %v, want none", got)
	}
}

func TestLearnSelectors(t *testing.T) {
	store := newFakeMemoryStore()
	m := NewMemory(store, nil, time.Hour, true, zerolog.Nop())

	st := newDomainState("learned.example")
	st.selectors[".news-body"] = 0.9
	m.domains["learned.example"] = st

	m.LearnSelectors(context.Background(), "learned.example", []string{".news-body", "article .text"}, 0.75)

	if st.selectors[".news-body"] != 0.9 {
		t.Errorf("known selector rate = %v, want untouched 0.9", st.selectors[".news-body"])
	}

	if st.selectors["article .text"] != 0.75 {
		t.Errorf("new selector rate = %v, want 0.75", st.selectors["article .text"])
	}

	if _, ok := store.records["learned.example"]; !ok {
		t.Error("learned selectors should be persisted")
	}
}

func TestLearnSelectorsDisabled(t *testing.T) {
	store := newFakeMemoryStore()
	m := NewMemory(store, nil, time.Hour, false, zerolog.Nop())

	m.LearnSelectors(context.Background(), "off.example", []string{".a"}, 0.75)

	if len(store.records) != 0 {
		t.Error("learning off should not persist selectors")
	}
}

func assertStrategies(t *testing.T, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("strategies = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("strategies = %v, want %v", got, want)
		}
	}
}

package enrichment

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

const (
	minContentRunes = 100
	maxContentRunes = 50000
	minTitleRunes   = 10

	minQualityScore = 0.4

	dedupeWindow = 24 * time.Hour
)

// Filter rejection reasons. They double as metric labels.
const (
	reasonTooShort   = "too_short"
	reasonTooLong    = "too_long"
	reasonShortTitle = "short_title"
	reasonNavigation = "navigation"
	reasonLanguage   = "language"
	reasonSpam       = "spam"
	reasonDuplicate  = "duplicate"
	reasonLowQuality = "low_quality"
)

// boilerplateRes matches text that is page chrome rather than an article:
// cookie walls, JS requirements, navigation stubs, paywall teasers.
var boilerplateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)javascript\s+(is\s+)?(disabled|required|выключен)`),
	regexp.MustCompile(`(?i)(enable|включите)\s+javascript`),
	regexp.MustCompile(`(?i)(использовани[ея]|политик[аи])\s+(файлов\s+)?cookie`),
	regexp.MustCompile(`(?i)accept\s+(all\s+)?cookies`),
	regexp.MustCompile(`(?i)404\s+(page\s+)?not\s+found`),
	regexp.MustCompile(`(?i)страница не найдена`),
	regexp.MustCompile(`(?i)доступ (к статье )?только (для )?подписчик`),
	regexp.MustCompile(`(?i)subscribe to (read|continue)`),
	regexp.MustCompile(`(?im)^\s*(главная|меню|контакты|о нас|реклама на сайте)\s*$`),
}

// Boilerplate markers only disqualify short pages; a real article may still
// mention cookies in passing.
const boilerplateMaxRunes = 1200

var spamRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)казино|casino`),
	regexp.MustCompile(`(?i)ставки на спорт|букмекер`),
	regexp.MustCompile(`(?i)заработок в интернете без вложений`),
	regexp.MustCompile(`(?i)крипто\s*сигнал`),
	regexp.MustCompile(`(?i)быстрые займы?|микрозайм`),
	regexp.MustCompile(`(?i)увеличь(те)? (свой )?доход`),
}

var personalServiceRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)гадалк|приворот|таролог`),
	regexp.MustCompile(`(?i)маникюр|наращивание ресниц`),
	regexp.MustCompile(`(?i)репетитор по`),
	regexp.MustCompile(`(?i)запис(ь|ывайтесь) (на прием|в директ)`),
}

// verdict is the outcome of the pre-AI gate for one article.
type verdict struct {
	OK      bool
	Reason  string
	Quality float64
}

// Retryable reports whether a fresh extraction could plausibly flip the
// verdict. Length and boilerplate failures often mean the stored content is
// a teaser or page chrome; language or spam failures will not improve.
func (v verdict) Retryable() bool {
	return v.Reason == reasonTooShort || v.Reason == reasonNavigation
}

// smartFilter gates articles before they reach the AI provider. It keeps an
// in-memory window of recently seen content hashes so near-simultaneous
// duplicates from different sources burn only one model call.
type smartFilter struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
	now       func() time.Time
}

func newSmartFilter() *smartFilter {
	return &smartFilter{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (f *smartFilter) check(title, content string) verdict {
	contentRunes := utf8.RuneCountInString(content)

	switch {
	case contentRunes < minContentRunes:
		return verdict{Reason: reasonTooShort}
	case contentRunes > maxContentRunes:
		return verdict{Reason: reasonTooLong}
	}

	if utf8.RuneCountInString(strings.TrimSpace(title)) < minTitleRunes {
		return verdict{Reason: reasonShortTitle}
	}

	if contentRunes <= boilerplateMaxRunes {
		for _, re := range boilerplateRes {
			if re.MatchString(content) {
				return verdict{Reason: reasonNavigation}
			}
		}
	}

	if !languageOK(content) {
		return verdict{Reason: reasonLanguage}
	}

	for _, re := range spamRes {
		if re.MatchString(content) {
			return verdict{Reason: reasonSpam}
		}
	}

	if f.isDuplicate(title, content) {
		return verdict{Reason: reasonDuplicate}
	}

	quality := qualityScore(title, content)
	if quality < minQualityScore {
		return verdict{Reason: reasonLowQuality, Quality: quality}
	}

	return verdict{OK: true, Quality: quality}
}

// languageOK accepts mostly-Cyrillic text and mostly-Latin text, and rejects
// the mixed band in between, which in practice is mojibake or templates with
// stray localized fragments.
func languageOK(content string) bool {
	var letters, cyrillic int

	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}

		letters++

		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}

	if letters == 0 {
		return false
	}

	ratio := float64(cyrillic) / float64(letters)

	return ratio >= 0.3 || ratio <= 0.1
}

// isDuplicate registers the article's content hash and reports whether the
// same hash was already seen inside the window.
func (f *smartFilter) isDuplicate(title, content string) bool {
	hash := domain.ContentHash(title, content)
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastPrune) > dedupeWindow {
		for h, seen := range f.seen {
			if now.Sub(seen) > dedupeWindow {
				delete(f.seen, h)
			}
		}

		f.lastPrune = now
	}

	if seen, ok := f.seen[hash]; ok && now.Sub(seen) <= dedupeWindow {
		return true
	}

	f.seen[hash] = now

	return false
}

// qualityScore is a cheap composite estimate of whether the text reads like
// an article: structure and length add, shouting and classifieds subtract.
func qualityScore(title, content string) float64 {
	score := 0.5

	if strings.Count(content, ".")+strings.Count(content, "!")+strings.Count(content, "?") >= 3 {
		score += 0.15
	}

	if strings.Count(content, "\n\n") >= 1 {
		score += 0.1
	}

	if len(strings.Fields(content)) >= 120 {
		score += 0.15
	}

	if capsRatio(title) > 0.5 || capsRatio(content) > 0.3 {
		score -= 0.3
	}

	for _, re := range personalServiceRes {
		if re.MatchString(content) {
			score -= 0.3

			break
		}
	}

	if score < 0 {
		return 0
	}

	if score > 1 {
		return 1
	}

	return score
}

func capsRatio(s string) float64 {
	var letters, upper int

	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}

		letters++

		if unicode.IsUpper(r) {
			upper++
		}
	}

	if letters < 20 {
		return 0
	}

	return float64(upper) / float64(letters)
}

package categories

import (
	"strings"
	"unicode/utf8"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// defaultMapping is one built-in label-to-category rule. Keys are
// lowercase; Russian and English forms are listed side by side because the
// models answer in both.
type defaultMapping struct {
	key      string
	category string
}

// defaultMappings is scanned in order, so the list doubles as the partial
// match priority. Exact lookups use the index built below.
var defaultMappings = []defaultMapping{
	// Serbia
	{"serbia", "Serbia"},
	{"сербия", "Serbia"},
	{"сербск", "Serbia"},
	{"belgrade", "Serbia"},
	{"белград", "Serbia"},
	{"balkans", "Serbia"},
	{"балканы", "Serbia"},
	{"vojvodina", "Serbia"},
	{"воеводина", "Serbia"},
	{"novi sad", "Serbia"},
	{"нови сад", "Serbia"},
	{"kosovo", "Serbia"},
	{"косово", "Serbia"},

	// Tech
	{"tech", "Tech"},
	{"technology", "Tech"},
	{"технологии", "Tech"},
	{"технология", "Tech"},
	{"it", "Tech"},
	{"айти", "Tech"},
	{"ai", "Tech"},
	{"ии", "Tech"},
	{"artificial intelligence", "Tech"},
	{"искусственный интеллект", "Tech"},
	{"software", "Tech"},
	{"софт", "Tech"},
	{"программное обеспечение", "Tech"},
	{"gadgets", "Tech"},
	{"гаджеты", "Tech"},
	{"internet", "Tech"},
	{"интернет", "Tech"},
	{"cybersecurity", "Tech"},
	{"кибербезопасность", "Tech"},
	{"startups", "Tech"},
	{"стартапы", "Tech"},
	{"crypto", "Tech"},
	{"криптовалюты", "Tech"},

	// Business
	{"business", "Business"},
	{"бизнес", "Business"},
	{"economy", "Business"},
	{"economics", "Business"},
	{"экономика", "Business"},
	{"finance", "Business"},
	{"финансы", "Business"},
	{"markets", "Business"},
	{"рынки", "Business"},
	{"investments", "Business"},
	{"инвестиции", "Business"},
	{"banking", "Business"},
	{"банки", "Business"},
	{"money", "Business"},
	{"деньги", "Business"},
	{"trade", "Business"},
	{"торговля", "Business"},
	{"real estate", "Business"},
	{"недвижимость", "Business"},
	{"налоги", "Business"},

	// Science
	{"science", "Science"},
	{"наука", "Science"},
	{"research", "Science"},
	{"исследования", "Science"},
	{"space", "Science"},
	{"космос", "Science"},
	{"medicine", "Science"},
	{"медицина", "Science"},
	{"health", "Science"},
	{"здоровье", "Science"},
	{"biology", "Science"},
	{"биология", "Science"},
	{"physics", "Science"},
	{"физика", "Science"},
	{"chemistry", "Science"},
	{"химия", "Science"},
	{"climate", "Science"},
	{"климат", "Science"},
	{"ecology", "Science"},
	{"экология", "Science"},
	{"education", "Science"},
	{"образование", "Science"},

	// Politics
	{"politics", "Politics"},
	{"политика", "Politics"},
	{"elections", "Politics"},
	{"выборы", "Politics"},
	{"government", "Politics"},
	{"правительство", "Politics"},
	{"parliament", "Politics"},
	{"парламент", "Politics"},
	{"president", "Politics"},
	{"президент", "Politics"},
	{"legislation", "Politics"},
	{"законы", "Politics"},
	{"opposition", "Politics"},
	{"оппозиция", "Politics"},

	// International
	{"international", "International"},
	{"международные", "International"},
	{"международные отношения", "International"},
	{"world", "International"},
	{"мир", "International"},
	{"geopolitics", "International"},
	{"геополитика", "International"},
	{"diplomacy", "International"},
	{"дипломатия", "International"},
	{"un", "International"},
	{"оон", "International"},
	{"eu", "International"},
	{"ес", "International"},
	{"евросоюз", "International"},
	{"european union", "International"},
	{"usa", "International"},
	{"сша", "International"},
	{"russia", "International"},
	{"россия", "International"},
	{"ukraine", "International"},
	{"украина", "International"},
	{"china", "International"},
	{"китай", "International"},
	{"war", "International"},
	{"война", "International"},
	{"conflict", "International"},
	{"конфликт", "International"},
	{"sanctions", "International"},
	{"санкции", "International"},

	// Other
	{"other", domain.CategoryOther},
	{"прочее", domain.CategoryOther},
	{"разное", domain.CategoryOther},
	{"society", domain.CategoryOther},
	{"общество", domain.CategoryOther},
	{"culture", domain.CategoryOther},
	{"культура", domain.CategoryOther},
	{"sport", domain.CategoryOther},
	{"sports", domain.CategoryOther},
	{"спорт", domain.CategoryOther},
	{"entertainment", domain.CategoryOther},
	{"развлечения", domain.CategoryOther},
	{"шоу-бизнес", domain.CategoryOther},
	{"incidents", domain.CategoryOther},
	{"происшествия", domain.CategoryOther},
	{"crime", domain.CategoryOther},
	{"криминал", domain.CategoryOther},
	{"weather", domain.CategoryOther},
	{"погода", domain.CategoryOther},
	{"lifestyle", domain.CategoryOther},
	{"travel", domain.CategoryOther},
	{"путешествия", domain.CategoryOther},
	{"religion", domain.CategoryOther},
	{"религия", domain.CategoryOther},
	{"humor", domain.CategoryOther},
	{"юмор", domain.CategoryOther},
}

var defaultExactIndex = buildExactIndex()

func buildExactIndex() map[string]string {
	index := make(map[string]string, len(defaultMappings))

	for _, m := range defaultMappings {
		if _, dup := index[m.key]; !dup {
			index[m.key] = m.category
		}
	}

	return index
}

// Partial matching needs substance on both sides: two-letter keys like
// "it" or "eu" would otherwise match inside half the dictionary.
const minPartialRunes = 4

// resolveDefault runs the built-in dictionary: exact key match first, then
// substring match in either direction.
func resolveDefault(label string) (string, string, bool) {
	lower := strings.ToLower(strings.TrimSpace(label))
	if lower == "" {
		return "", "", false
	}

	if category, ok := defaultExactIndex[lower]; ok {
		return category, SourceDefaultExact, true
	}

	if utf8.RuneCountInString(lower) < minPartialRunes {
		return "", "", false
	}

	for _, m := range defaultMappings {
		if utf8.RuneCountInString(m.key) < minPartialRunes {
			continue
		}

		if strings.Contains(lower, m.key) || strings.Contains(m.key, lower) {
			return m.category, SourceDefaultPartial + ":" + m.key, true
		}
	}

	return "", "", false
}

// Keyword sets for direct text categorization when no AI labels exist.
// Stems, not words: Russian morphology inflects everything.
var keywordFallbackSets = []struct {
	category string
	keywords []string
}{
	{"Serbia", []string{
		"серби", "белград", "belgrade", "вучич", "vucic", "нови сад", "novi sad",
		"косово", "kosovo", "балкан", "динар", "скупщин",
	}},
	{"Science", []string{
		"учен", "научн", "исследован", "космос", "медицин", "вакцин",
		"физик", "биолог", "климат", "открыти",
	}},
	{"Tech", []string{
		"технолог", "искусственный интеллект", "нейросет", "программ",
		"приложени", "смартфон", "гаджет", "кибер", "стартап", "робот",
	}},
	{"Business", []string{
		"бизнес", "эконом", "финанс", "инвест", "банк", "рынк",
		"компани", "прибыл", "налог", "инфляци",
	}},
}

const (
	keywordMatchConfidence = 0.5
	keywordNoneConfidence  = 0.3
)

// CategorizeByKeywords scores article text against the keyword sets and
// returns the winning fixed category. Ties go to the earlier set, which
// makes the list order the priority order. No hits means Other.
func CategorizeByKeywords(title, content string) (string, float32) {
	text := strings.ToLower(title + " " + content)

	bestCategory := ""
	bestScore := 0

	for _, set := range keywordFallbackSets {
		score := 0

		for _, kw := range set.keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}

		if score > bestScore {
			bestScore = score
			bestCategory = set.category
		}
	}

	if bestCategory == "" {
		return domain.CategoryOther, keywordNoneConfidence
	}

	return bestCategory, keywordMatchConfidence
}

package enrichment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleText = `Правительство Сербии утвердило проект бюджета на следующий год.

Документ предусматривает рост расходов на инфраструктуру и образование. Министр финансов отметил, что дефицит останется в допустимых рамках. Парламент рассмотрит проект в течение месяца.`

const articleTitle = "Правительство утвердило проект бюджета"

func TestFilterAcceptsArticle(t *testing.T) {
	f := newSmartFilter()

	v := f.check(articleTitle, articleText)

	require.True(t, v.OK, "verdict: %+v", v)
	assert.GreaterOrEqual(t, v.Quality, minQualityScore)
}

func TestFilterLengthBounds(t *testing.T) {
	f := newSmartFilter()

	v := f.check(articleTitle, "коротко")
	assert.Equal(t, reasonTooShort, v.Reason)
	assert.True(t, v.Retryable(), "short content should invite re-extraction")

	v = f.check(articleTitle, strings.Repeat("очень длинный текст ", 3000))
	assert.Equal(t, reasonTooLong, v.Reason)
	assert.False(t, v.Retryable())
}

func TestFilterShortTitle(t *testing.T) {
	f := newSmartFilter()

	v := f.check("Кратко", articleText)

	assert.Equal(t, reasonShortTitle, v.Reason)
}

func TestFilterBoilerplate(t *testing.T) {
	f := newSmartFilter()

	page := "Для просмотра сайта включите JavaScript в вашем браузере. " +
		strings.Repeat("Остальное содержимое недоступно. ", 5)

	v := f.check(articleTitle, page)

	assert.Equal(t, reasonNavigation, v.Reason)
	assert.True(t, v.Retryable())
}

func TestFilterBoilerplateIgnoredInLongArticles(t *testing.T) {
	f := newSmartFilter()

	// A real article that merely mentions cookies must pass.
	long := articleText + "\n\n" + strings.Repeat("Подробности обсуждения бюджета и позиции фракций. ", 40) +
		"Сайт парламента использует файлы cookie."

	v := f.check(articleTitle, long)

	assert.True(t, v.OK, "verdict: %+v", v)
}

func TestFilterLanguageBand(t *testing.T) {
	f := newSmartFilter()

	// Mostly Latin text is fine.
	v := f.check("Government approves annual budget", strings.Repeat("The government approved the budget for next year. Spending grows. ", 5))
	assert.True(t, v.OK, "verdict: %+v", v)

	// A Cyrillic sprinkle over Latin text is the mojibake band.
	mixed := strings.Repeat("Lorem ipsum dolor sit amet consectetur adipiscing elit доброе утро юг ", 5)
	v = f.check(articleTitle, mixed)
	assert.Equal(t, reasonLanguage, v.Reason)
}

func TestFilterSpam(t *testing.T) {
	f := newSmartFilter()

	v := f.check(articleTitle, articleText+" Лучшее онлайн казино ждет вас.")

	assert.Equal(t, reasonSpam, v.Reason)
}

func TestFilterDedupeWindow(t *testing.T) {
	now := time.Date(2025, 7, 29, 12, 0, 0, 0, time.UTC)

	f := newSmartFilter()
	f.now = func() time.Time { return now }

	v := f.check(articleTitle, articleText)
	require.True(t, v.OK)

	v = f.check(articleTitle, articleText)
	assert.Equal(t, reasonDuplicate, v.Reason)

	// The same content a day later is news again.
	now = now.Add(dedupeWindow + time.Hour)

	v = f.check(articleTitle, articleText)
	assert.True(t, v.OK, "verdict: %+v", v)
}

func TestQualityScorePenalizesShouting(t *testing.T) {
	caps := strings.Repeat("СРОЧНО ВСЕМ ЧИТАТЬ ОЧЕНЬ ВАЖНО! ", 10)

	assert.Less(t, qualityScore(articleTitle, caps), qualityScore(articleTitle, articleText))
}

func TestQualityScorePenalizesPersonalServices(t *testing.T) {
	ad := "Маникюр и наращивание ресниц со скидкой! Запись на прием в свободные окна. Работаем ежедневно до позднего вечера в самом центре города."

	f := newSmartFilter()

	v := f.check("Маникюр в центре города", ad)

	assert.Equal(t, reasonLowQuality, v.Reason)
}

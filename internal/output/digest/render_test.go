package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/news-aggregator/internal/platform/htmlutils"
)

var digestDate = time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)

func TestRenderSingleMessage(t *testing.T) {
	blocks := []block{
		newBlock("Политика", "Парламент утвердил бюджет.", 5),
		newBlock("Технологии", "Открылась выставка в Белграде.", 3),
	}

	parts := render(digestDate, blocks, 8)

	require.Len(t, parts, 1)

	msg := parts[0]

	assert.True(t, strings.HasPrefix(msg, "<b>Сводка новостей за 29.07.2025</b>"), "msg: %q", msg)
	assert.Contains(t, msg, "<b>Политика</b>")
	assert.Contains(t, msg, "<b>Технологии</b>")
	assert.Contains(t, msg, "📊 Всего: 8 новостей в 2 категориях")
	assert.NotContains(t, msg, "Часть")
}

func TestRenderSplitsIntoTwoParts(t *testing.T) {
	long := strings.Repeat("Подробная сводка событий дня в регионе. ", 30)

	blocks := []block{
		newBlock("Политика", long, 10),
		newBlock("Экономика", long, 7),
		newBlock("Технологии", long, 4),
		newBlock("Прочее", long, 1),
	}

	parts := render(digestDate, blocks, 22)

	require.Len(t, parts, 2)

	assert.Contains(t, parts[0], "Сводка новостей за 29.07.2025")
	assert.Contains(t, parts[0], "Часть 1")
	assert.Contains(t, parts[0], continuationNote)
	assert.NotContains(t, parts[0], "Всего:")

	assert.Contains(t, parts[1], "(продолжение)")
	assert.Contains(t, parts[1], "Часть 2")
	assert.Contains(t, parts[1], "📊 Всего: 22 новостей в 4 категориях")
	assert.NotContains(t, parts[1], continuationNote)

	// Every category lands in exactly one part.
	for _, name := range []string{"Политика", "Экономика", "Технологии", "Прочее"} {
		inFirst := strings.Contains(parts[0], "<b>"+name+"</b>")
		inSecond := strings.Contains(parts[1], "<b>"+name+"</b>")

		assert.True(t, inFirst != inSecond, "category %s: first=%v second=%v", name, inFirst, inSecond)
	}

	for _, p := range parts {
		assert.LessOrEqual(t, htmlutils.UTF16Len(p), partBudget)
	}
}

func TestRenderOversizeSingleCategoryStillShips(t *testing.T) {
	huge := strings.Repeat("Очень длинное предложение о событиях дня. ", 200)

	parts := render(digestDate, []block{newBlock("Политика", huge, 12)}, 12)

	require.Len(t, parts, 1)
	assert.LessOrEqual(t, htmlutils.UTF16Len(parts[0]), hardLimit)
}

func TestSplitBlocksBalancesByArticleCount(t *testing.T) {
	blocks := []block{
		{display: "a", articles: 10},
		{display: "b", articles: 9},
		{display: "c", articles: 8},
		{display: "d", articles: 1},
	}

	first, second := splitBlocks(blocks)

	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.Equal(t, len(blocks), len(first)+len(second))

	// Greedy by article count: a opens the first part, b and c balance
	// into the second, d tops up the lighter first part.
	assert.Equal(t, []string{"a", "d"}, displays(first))
	assert.Equal(t, []string{"b", "c"}, displays(second))
}

func TestSplitBlocksIgnoresTextLength(t *testing.T) {
	// A verbose small category must not outweigh a terse big one.
	blocks := []block{
		{display: "big", articles: 5, text: "короткий текст"},
		{display: "small", articles: 2, text: strings.Repeat("очень длинный текст ", 50)},
	}

	first, second := splitBlocks(blocks)

	assert.Equal(t, []string{"big"}, displays(first))
	assert.Equal(t, []string{"small"}, displays(second))
}

func displays(blocks []block) []string {
	out := make([]string, 0, len(blocks))
	for _, bl := range blocks {
		out = append(out, bl.display)
	}

	return out
}

func TestFinalizeSanitizesDisallowedTags(t *testing.T) {
	got := finalize(`<b>ok</b> <script>alert(1)</script> <a href="https://x.rs" onclick="no">link</a>`, hardLimit)

	assert.Contains(t, got, "<b>ok</b>")
	assert.NotContains(t, got, "<script>")
	assert.Contains(t, got, `<a href="https://x.rs">link</a>`)
}

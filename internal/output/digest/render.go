package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/lueurxax/news-aggregator/internal/platform/htmlutils"
)

// Length budgets in UTF-16 code units, the way Telegram counts them. A
// digest that fits singleBudget goes out as one message; anything larger is
// split in two, each part bounded by partBudget. hardLimit is the absolute
// ceiling after sanitizing.
const (
	singleBudget = 2600
	partBudget   = 3400
	hardLimit    = 4000

	continuationNote = "💬 Продолжение следует..."
)

type block struct {
	display  string
	articles int
	text     string
}

func newBlock(display, summary string, articles int) block {
	return block{
		display:  display,
		articles: articles,
		text:     fmt.Sprintf("<b>%s</b>\n%s", display, summary),
	}
}

func header(date time.Time) string {
	return fmt.Sprintf("<b>Сводка новостей за %s</b>", date.Format("02.01.2006"))
}

func footer(totalArticles, totalCategories int) string {
	return fmt.Sprintf("📊 Всего: %d новостей в %d категориях", totalArticles, totalCategories)
}

func partFooter(part, shown, total int) string {
	return fmt.Sprintf("📊 Часть %d • %d из %d категорий", part, shown, total)
}

// render produces the outgoing messages. Blocks must already be sorted by
// article count, largest first. A single oversize category still ships as
// one (truncated) message.
func render(date time.Time, blocks []block, totalArticles int) []string {
	sections := make([]string, 0, len(blocks)+2)
	sections = append(sections, header(date))

	for _, bl := range blocks {
		sections = append(sections, bl.text)
	}

	sections = append(sections, footer(totalArticles, len(blocks)))
	single := strings.Join(sections, "\n\n")

	if htmlutils.UTF16Len(single) <= singleBudget || len(blocks) < 2 {
		return []string{finalize(single, hardLimit)}
	}

	first, second := splitBlocks(blocks)

	part1 := strings.Join(append(
		blockTexts(header(date), first),
		partFooter(1, len(first), len(blocks)),
		continuationNote,
	), "\n\n")

	part2 := strings.Join(append(
		blockTexts(header(date)+" (продолжение)", second),
		partFooter(2, len(second), len(blocks)),
		footer(totalArticles, len(blocks)),
	), "\n\n")

	return []string{finalize(part1, partBudget), finalize(part2, partBudget)}
}

func blockTexts(head string, blocks []block) []string {
	out := make([]string, 0, len(blocks)+3)
	out = append(out, head)

	for _, bl := range blocks {
		out = append(out, bl.text)
	}

	return out
}

// splitBlocks assigns each block, in descending article-count order, to
// whichever part currently holds fewer articles. Both parts end up
// non-empty because the input has at least two blocks.
func splitBlocks(blocks []block) (first, second []block) {
	var firstCount, secondCount int

	for _, bl := range blocks {
		if firstCount <= secondCount {
			first = append(first, bl)
			firstCount += bl.articles
		} else {
			second = append(second, bl)
			secondCount += bl.articles
		}
	}

	return first, second
}

// finalize sanitizes the HTML against the Telegram tag whitelist and
// truncates at a sentence boundary when the message is still too long.
func finalize(text string, limit int) string {
	text = htmlutils.SanitizeHTML(text)

	if htmlutils.UTF16Len(text) > limit {
		text = htmlutils.TruncateHTML(text, limit)
	}

	return text
}


package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const digestHeaderLabel = "Сводка новостей"

// GenerateDigest compresses a pre-built HTML digest to fit one Telegram
// message. split selects the tighter per-part budget when the digest goes
// out as two messages; part is which of the two this content is.
func (c *Client) GenerateDigest(ctx context.Context, content string, split bool, part int) (string, error) {
	budget := digestBudgetSingle
	if split {
		budget = digestBudgetSplit
	}

	raw, err := c.chat(ctx, chatRequest{
		Task:        "digest",
		Model:       c.cfg.DigestModel,
		User:        fmt.Sprintf(digestCompressionPrompt, budget, digestHeaderLabel, content),
		MaxTokens:   digestMaxTokens,
		Temperature: digestTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("digest compression: %w", err)
	}

	result := cleanPlainResponse(raw)
	if result == "" {
		return "", ErrEmptyResponse
	}

	if got := utf8.RuneCountInString(result); got > budget {
		c.logger.Warn().
			Int("part", part).
			Int("budget", budget).
			Int("got", got).
			Msg("compressed digest still over budget")
	}

	return result, nil
}

// GenerateCategorySummary writes connected prose over one category's
// headlines for the daily summary. Callers fall back to
// FallbackCategorySummary on error.
func (c *Client) GenerateCategorySummary(ctx context.Context, category string, headlines []string) (string, error) {
	raw, err := c.chat(ctx, chatRequest{
		Task:             "category_summary",
		User:             fmt.Sprintf(categorySummaryPrompt, category, headlineList(headlines), category),
		MaxTokens:        categorySummaryMaxTokens,
		Temperature:      categorySummaryTemp,
		TopP:             categorySummaryTopP,
		FrequencyPenalty: categorySummaryFreqPen,
	})
	if err != nil {
		return "", fmt.Errorf("category summary (%s): %w", category, err)
	}

	result := cleanPlainResponse(raw)
	if result == "" {
		return "", ErrEmptyResponse
	}

	return truncateAtSentence(result, categorySummaryMaxChars), nil
}

// FallbackCategorySummary is the deterministic text used when the model is
// unavailable or failed.
func FallbackCategorySummary(category string, count int) string {
	return fmt.Sprintf("В сфере %s произошли важные события. Обработано %d новостей.", category, count)
}

const (
	maxHeadlinesPerSummary = 15
	maxHeadlineLength      = 200
)

func headlineList(headlines []string) string {
	if len(headlines) > maxHeadlinesPerSummary {
		headlines = headlines[:maxHeadlinesPerSummary]
	}

	var b strings.Builder

	for _, h := range headlines {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}

		b.WriteString("- ")
		b.WriteString(truncate(h, maxHeadlineLength))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// truncateAtSentence cuts s to at most max runes, preferring the last
// sentence boundary in the kept prefix.
func truncateAtSentence(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	cut := runes[:max]

	for i := len(cut) - 1; i > max/2; i-- {
		if isSentenceEnd(cut[i]) {
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}

	return strings.TrimSpace(string(cut))
}

package extract

import (
	"strings"
	"unicode"
)

// Content quality is scored 0..100. The gate for accepting a strategy's
// output is score plus minimum length; anything shorter than minUsefulRunes
// is not even kept as a best-effort candidate.
const (
	minUsefulRunes   = 50
	minAcceptedRunes = 200
	minAcceptedScore = 30
	minAcceptedWords = 2

	maxContentRunes = 8000
)

var navigationMarkers = []string{
	"cookie", "javascript", "подпишитесь", "меню", "навигация",
	"все права защищены", "all rights reserved", "©",
}

// ScoreContent rates extracted text. Length, sentence structure and
// paragraph breaks add points; navigation debris and shouting subtract.
func ScoreContent(content string) int {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0
	}

	runes := []rune(content)
	score := 0

	// Up to 40 points for length.
	lengthPoints := len(runes) / 50
	if lengthPoints > 40 {
		lengthPoints = 40
	}

	score += lengthPoints

	switch sentences := countSentences(content); {
	case sentences >= 3:
		score += 20
	case sentences >= 1:
		score += 10
	}

	if strings.Count(content, "\n\n") >= 1 {
		score += 15
	}

	if letterRatio(runes) >= 0.6 {
		score += 15
	}

	lower := strings.ToLower(content)

	penalty := 0

	for _, marker := range navigationMarkers {
		if strings.Contains(lower, marker) {
			penalty += 10
		}
	}

	if penalty > 20 {
		penalty = 20
	}

	score -= penalty

	if hasLongCapsRun(runes) {
		score -= 10
	}

	if score < 0 {
		score = 0
	}

	if score > 100 {
		score = 100
	}

	return score
}

// AcceptContent is the strategy gate: long enough, scored well enough,
// more than a fragment.
func AcceptContent(content string) bool {
	content = strings.TrimSpace(content)

	if len([]rune(content)) < minAcceptedRunes {
		return false
	}

	if len(strings.Fields(content)) < minAcceptedWords {
		return false
	}

	return ScoreContent(content) >= minAcceptedScore
}

func countSentences(s string) int {
	runes := []rune(s)
	count := 0

	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}

		if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
			count++
		}
	}

	return count
}

func letterRatio(runes []rune) float64 {
	if len(runes) == 0 {
		return 0
	}

	letters := 0

	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			letters++
		}
	}

	return float64(letters) / float64(len(runes))
}

func hasLongCapsRun(runes []rune) bool {
	run := 0

	for _, r := range runes {
		if !unicode.IsUpper(r) {
			run = 0

			continue
		}

		run++
		if run >= 10 {
			return true
		}
	}

	return false
}

// TruncateContent caps content at maxContentRunes runes, preferring a
// sentence boundary in the second half of the allowance.
func TruncateContent(content string) string {
	runes := []rune(content)
	if len(runes) <= maxContentRunes {
		return content
	}

	cut := runes[:maxContentRunes]

	for i := len(cut) - 1; i >= maxContentRunes/2; i-- {
		if cut[i] == '.' || cut[i] == '!' || cut[i] == '?' || cut[i] == '…' {
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}

	return strings.TrimSpace(string(cut))
}

package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// Ad type labels stored in articles.ad_type.
const (
	AdTypeAffiliate         = "affiliate_marketing"
	AdTypePromotion         = "promotion"
	AdTypeSubscriptionPromo = "subscription_promo"
	AdTypeProductPromotion  = "product_promotion"
)

// heuristicCertainty is the score above which the heuristic verdict stands
// on its own and the AI verdict is not consulted.
const heuristicCertainty = 0.6

// AdVerdict is an advertising classification. Confidence is the estimated
// probability that the article is promotional, whichever way the verdict
// went.
type AdVerdict struct {
	IsAdvertisement bool
	Confidence      float32
	Type            string
	Reasoning       string
	Markers         []string
}

// Certain reports whether the heuristic score alone settles the question.
func (v AdVerdict) Certain() bool {
	return v.Confidence >= heuristicCertainty
}

// Marker weights. News indicators subtract: quoted officials and agency
// attributions are strong signs of editorial content.
const (
	strongMarkerWeight   = 0.4
	weakMarkerWeight     = 0.2
	weakMarkerWeightNews = 0.1
	urlMarkerWeight      = 0.3
	personalMarkerWeight = 0.35
	eventMarkerWeight    = 0.15
	newsIndicatorWeight  = 0.1

	// News-domain articles get the whole score dampened: established
	// outlets run promo-looking headlines over editorial content.
	newsDomainDampening = 0.6

	adDecisionThresholdNews  = 0.25
	adDecisionThresholdOther = 0.35
)

var strongAdMarkers = []string{
	"реклама",
	"рекламн",
	"sponsored",
	"advertis",
	"reklam",
	"партнерский материал",
	"партнёрский материал",
	"купи сейчас",
	"buy now",
	"shop now",
	"заказать сейчас",
	"промокод",
	"use code",
	"coupon code",
}

var weakAdMarkers = []string{
	"акция",
	"скидк",
	"распродажа",
	"подарок",
	"бесплатн",
	"спецпредложение",
	"special offer",
	"limited time",
	"discount",
	"розыгрыш",
	"giveaway",
	"подписывайтесь",
	"подписывайся",
	"subscribe",
}

var personalServiceMarkers = []string{
	"пишите в личку",
	"пишите в директ",
	"запись по телефону",
	"запись в директ",
	"наши услуги",
	"наш салон",
	"наш магазин",
	"мой канал",
	"консультация бесплатно",
}

var eventPromoMarkers = []string{
	"концерт",
	"фестиваль",
	"выставка",
	"мероприятие",
	"билеты можно",
	"вход свободный",
}

var newsIndicators = []string{
	"сообщает",
	"по данным",
	"заявил",
	"по словам",
	"источник",
	"корреспондент",
	"агентство",
	"reported",
	"according to",
	"officials said",
}

var (
	// Go's \b is ASCII-only, so Cyrillic word forms are matched with an
	// explicit letter class instead.
	discountPercentRe = regexp.MustCompile(`скидк[а-яё]*\s?\d{1,3}\s?%|\d{1,3}\s?%\s?off`)
	adURLPatternRe    = regexp.MustCompile(`utm_|aff(?:id|iliate)?=|ref=|coupon=|promo=`)
	affiliateURLRe    = regexp.MustCompile(`aff(?:id|iliate)?=|coupon=|promo=`)
)

var subscriptionMarkers = []string{
	"подпис",
	"subscribe",
}

var productMarkers = []string{
	"купи",
	"buy now",
	"shop now",
	"заказать",
	"промокод",
	"скидк",
	"coupon",
}

// ScoreAdvertising runs the marker heuristics over an article. It is pure
// and cheap: the enrichment pipeline calls it before deciding whether the
// AI verdict is needed at all.
func ScoreAdvertising(title, content, articleURL string, newsDomain bool) AdVerdict {
	text := strings.ToLower(title + "\n" + content)
	lowerURL := strings.ToLower(articleURL)

	var (
		score   float64
		markers []string
	)

	for _, m := range strongAdMarkers {
		if strings.Contains(text, m) {
			score += strongMarkerWeight

			markers = append(markers, "promo:"+m)
		}
	}

	if m := discountPercentRe.FindString(text); m != "" {
		score += strongMarkerWeight

		markers = append(markers, "promo:"+m)
	}

	weakWeight := weakMarkerWeight
	if newsDomain {
		weakWeight = weakMarkerWeightNews
	}

	for _, m := range weakAdMarkers {
		if strings.Contains(text, m) {
			score += weakWeight

			markers = append(markers, "weak:"+m)
		}
	}

	if m := adURLPatternRe.FindString(lowerURL); m != "" {
		score += urlMarkerWeight

		markers = append(markers, "url:"+m)
	}

	for _, m := range personalServiceMarkers {
		if strings.Contains(text, m) {
			score += personalMarkerWeight

			markers = append(markers, "personal:"+m)
		}
	}

	for _, m := range eventPromoMarkers {
		if strings.Contains(text, m) {
			score += eventMarkerWeight

			markers = append(markers, "event:"+m)
		}
	}

	for _, m := range newsIndicators {
		if strings.Contains(text, m) {
			score -= newsIndicatorWeight
		}
	}

	if newsDomain {
		score *= newsDomainDampening
	}

	confidence := clamp01(float32(score))

	verdict := AdVerdict{
		Confidence: confidence,
		Markers:    markers,
	}

	if confidence >= adDecisionThreshold(newsDomain) {
		verdict.IsAdvertisement = true
		verdict.Type = classifyAdType(text, lowerURL)
		verdict.Reasoning = fmt.Sprintf("Рекламные маркеры (оценка %.2f): %s", confidence, markerSummary(markers))
	}

	return verdict
}

func adDecisionThreshold(newsDomain bool) float32 {
	if newsDomain {
		return adDecisionThresholdNews
	}

	return adDecisionThresholdOther
}

func classifyAdType(text, lowerURL string) string {
	if affiliateURLRe.MatchString(lowerURL) {
		return AdTypeAffiliate
	}

	for _, m := range subscriptionMarkers {
		if strings.Contains(text, m) {
			return AdTypeSubscriptionPromo
		}
	}

	for _, m := range productMarkers {
		if strings.Contains(text, m) {
			return AdTypeProductPromotion
		}
	}

	return AdTypePromotion
}

func markerSummary(markers []string) string {
	if len(markers) == 0 {
		return "нет"
	}

	const maxShown = 5

	shown := markers
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}

	return strings.Join(shown, ", ")
}

// CombineAdVerdicts merges the heuristic score with the AI verdict from the
// unified analysis. The heuristic stands alone when it is certain or when no
// usable AI verdict exists; an AI not-ad verdict leaves behind the residual
// probability 1-confidence, which a strong heuristic score can still beat.
func CombineAdVerdicts(heuristic AdVerdict, ai *Analysis, newsDomain bool) AdVerdict {
	if ai == nil || ai.Fallback || heuristic.Certain() {
		return heuristic
	}

	if ai.IsAdvertisement {
		combined := AdVerdict{
			IsAdvertisement: true,
			Confidence:      max32(heuristic.Confidence, ai.AdConfidence),
			Type:            ai.AdType,
			Reasoning:       ai.AdReasoning,
			Markers:         heuristic.Markers,
		}

		if combined.Type == "" {
			combined.Type = heuristic.Type
		}

		if combined.Type == "" {
			combined.Type = AdTypePromotion
		}

		if combined.Reasoning == "" {
			combined.Reasoning = heuristic.Reasoning
		}

		return combined
	}

	residual := max32(heuristic.Confidence, 1-ai.AdConfidence)

	verdict := AdVerdict{
		Confidence: residual,
		Markers:    heuristic.Markers,
	}

	if residual >= adDecisionThreshold(newsDomain) {
		verdict.IsAdvertisement = true
		verdict.Type = heuristic.Type

		if verdict.Type == "" {
			verdict.Type = AdTypePromotion
		}

		verdict.Reasoning = heuristic.Reasoning
		if verdict.Reasoning == "" {
			verdict.Reasoning = fmt.Sprintf("Эвристическая оценка %.2f при неуверенном вердикте ИИ", residual)
		}
	}

	return verdict
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}

	return b
}

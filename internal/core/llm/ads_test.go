package llm

import (
	"strings"
	"testing"
)

func TestScoreAdvertisingCleanNews(t *testing.T) {
	v := ScoreAdvertising(
		"Правительство приняло бюджет",
		"Как сообщает агентство, министр заявил о росте доходов. По данным ведомства, дефицит сократился.",
		"https://www.rts.rs/vesti/budzet",
		false,
	)

	if v.IsAdvertisement {
		t.Errorf("clean news flagged as ad: %+v", v)
	}

	if v.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 after news indicators", v.Confidence)
	}
}

func TestScoreAdvertisingPromo(t *testing.T) {
	v := ScoreAdvertising(
		"Скидка 50% только сегодня",
		"Используй промокод NEWS10 и купи сейчас со скидкой.",
		"https://shop.example.com/catalog?utm_source=telegram",
		false,
	)

	if !v.IsAdvertisement {
		t.Fatalf("promo not flagged: %+v", v)
	}

	if v.Confidence < 0.9 {
		t.Errorf("Confidence = %v, want near 1", v.Confidence)
	}

	if v.Type != AdTypeProductPromotion {
		t.Errorf("Type = %q, want %q", v.Type, AdTypeProductPromotion)
	}

	if !v.Certain() {
		t.Error("strong promo should be certain")
	}

	var hasURLMarker bool

	for _, m := range v.Markers {
		if strings.HasPrefix(m, "url:") {
			hasURLMarker = true
		}
	}

	if !hasURLMarker {
		t.Errorf("Markers = %v, want a url marker", v.Markers)
	}
}

func TestScoreAdvertisingNewsDomainDampening(t *testing.T) {
	title := "Акция в поддержку музея"
	content := "Организаторы объявили акцию и обещают подарок каждому посетителю."

	regular := ScoreAdvertising(title, content, "https://blog.example.com/post", false)
	news := ScoreAdvertising(title, content, "https://www.rts.rs/post", true)

	if news.Confidence >= regular.Confidence {
		t.Errorf("news domain score %v should be below regular %v", news.Confidence, regular.Confidence)
	}
}

func TestScoreAdvertisingPersonalService(t *testing.T) {
	v := ScoreAdvertising(
		"Маникюр в центре города",
		"Запись по телефону, приходите к нам.",
		"https://t.me/salon/12",
		false,
	)

	if !v.IsAdvertisement {
		t.Errorf("personal service not flagged: %+v", v)
	}

	if v.Type != AdTypePromotion {
		t.Errorf("Type = %q, want %q", v.Type, AdTypePromotion)
	}
}

func TestScoreAdvertisingUnderThreshold(t *testing.T) {
	v := ScoreAdvertising(
		"Концерт в субботу",
		"В городском парке пройдет концерт, вход свободный.",
		"https://example.com/events",
		false,
	)

	if v.IsAdvertisement {
		t.Errorf("event announcement flagged as ad: %+v", v)
	}

	if v.Confidence == 0 {
		t.Error("event markers should produce a nonzero score")
	}
}

func TestClassifyAdType(t *testing.T) {
	tests := []struct {
		name string
		text string
		url  string
		want string
	}{
		{"affiliate url", "обычный текст", "https://shop.com/?affid=77", AdTypeAffiliate},
		{"subscription", "подписывайся на канал", "https://t.me/ch", AdTypeSubscriptionPromo},
		{"product", "купи сейчас со скидкой", "https://shop.com/", AdTypeProductPromotion},
		{"generic", "реклама услуг", "https://example.com/", AdTypePromotion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyAdType(tt.text, tt.url); got != tt.want {
				t.Errorf("classifyAdType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCombineAdVerdictsHeuristicCertain(t *testing.T) {
	heuristic := AdVerdict{
		IsAdvertisement: true,
		Confidence:      0.8,
		Type:            AdTypeProductPromotion,
	}

	ai := &Analysis{IsAdvertisement: false, AdConfidence: 0.9}

	got := CombineAdVerdicts(heuristic, ai, false)

	if !got.IsAdvertisement || got.Confidence != 0.8 || got.Type != AdTypeProductPromotion {
		t.Errorf("certain heuristic overridden: %+v", got)
	}
}

func TestCombineAdVerdictsNoAI(t *testing.T) {
	heuristic := AdVerdict{Confidence: 0.2}

	if got := CombineAdVerdicts(heuristic, nil, false); got.IsAdvertisement {
		t.Errorf("nil analysis should keep heuristic verdict: %+v", got)
	}

	fallback := &Analysis{Fallback: true, IsAdvertisement: true, AdConfidence: 0.9}

	if got := CombineAdVerdicts(heuristic, fallback, false); got.IsAdvertisement {
		t.Errorf("fallback analysis should keep heuristic verdict: %+v", got)
	}
}

func TestCombineAdVerdictsAIAd(t *testing.T) {
	heuristic := AdVerdict{Confidence: 0.2, Markers: []string{"weak:акция"}}

	ai := &Analysis{
		IsAdvertisement: true,
		AdConfidence:    0.7,
		AdType:          AdTypeSubscriptionPromo,
		AdReasoning:     "Призыв подписаться на канал",
	}

	got := CombineAdVerdicts(heuristic, ai, false)

	if !got.IsAdvertisement {
		t.Fatal("AI ad verdict dropped")
	}

	if got.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", got.Confidence)
	}

	if got.Type != AdTypeSubscriptionPromo {
		t.Errorf("Type = %q, want %q", got.Type, AdTypeSubscriptionPromo)
	}

	if len(got.Markers) != 1 {
		t.Errorf("Markers = %v, want heuristic markers kept", got.Markers)
	}
}

func TestCombineAdVerdictsResidual(t *testing.T) {
	// AI confidently says not-ad: residual stays below threshold.
	confident := CombineAdVerdicts(AdVerdict{Confidence: 0.3}, &Analysis{AdConfidence: 0.9}, false)

	if confident.IsAdvertisement {
		t.Errorf("confident not-ad verdict should hold: %+v", confident)
	}

	// AI unsure about not-ad: residual 0.8 crosses the threshold.
	unsure := CombineAdVerdicts(AdVerdict{Confidence: 0.1}, &Analysis{AdConfidence: 0.2}, false)

	if !unsure.IsAdvertisement {
		t.Fatalf("unsure not-ad verdict should flip to ad: %+v", unsure)
	}

	if unsure.Type != AdTypePromotion {
		t.Errorf("Type = %q, want %q", unsure.Type, AdTypePromotion)
	}

	if unsure.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", unsure.Confidence)
	}
}

func TestAdVerdictCertain(t *testing.T) {
	if (AdVerdict{Confidence: 0.59}).Certain() {
		t.Error("0.59 should not be certain")
	}

	if !(AdVerdict{Confidence: 0.6}).Certain() {
		t.Error("0.6 should be certain")
	}
}

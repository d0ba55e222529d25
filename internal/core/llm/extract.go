package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AI-assisted extraction helpers backing the content extractor: publication
// dates buried in page text, full-article links behind previews, and CSS
// selector discovery for unknown domains.

type rawDateExtraction struct {
	DateFound       bool    `json:"date_found"`
	PublicationDate string  `json:"publication_date"`
	Confidence      float64 `json:"confidence"`
	Source          string  `json:"source"`
	RawText         string  `json:"raw_text"`
}

// ExtractPublicationDate asks the model to find an explicit publication date
// in page text. A nil time with nil error means no confident date was found.
func (c *Client) ExtractPublicationDate(ctx context.Context, pageText, pageURL string) (*time.Time, float32, error) {
	if !c.Available() {
		return nil, 0, ErrDisabled
	}

	raw, err := c.chat(ctx, chatRequest{
		Task:        "extract_date",
		User:        fmt.Sprintf(dateExtractionPrompt, pageURL, truncate(pageText, datePreviewChars)),
		MaxTokens:   dateExtractionMaxTokens,
		Temperature: dateExtractionTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, 0, err
	}

	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, 0, err
	}

	var parsed rawDateExtraction
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, 0, fmt.Errorf("decode date extraction response: %w", err)
	}

	confidence := clamp01(float32(parsed.Confidence))

	if !parsed.DateFound || confidence < minExtractionConfidence {
		return nil, confidence, nil
	}

	t, ok := parseLooseDate(parsed.PublicationDate)
	if !ok || !withinDateWindow(t, time.Now()) {
		return nil, confidence, nil
	}

	c.logger.Debug().
		Str("url", pageURL).
		Time("date", t).
		Str("source", parsed.Source).
		Float32("confidence", confidence).
		Msg("publication date extracted")

	return &t, confidence, nil
}

type rawLinkExtraction struct {
	LinkFound      bool    `json:"link_found"`
	FullArticleURL string  `json:"full_article_url"`
	Confidence     float64 `json:"confidence"`
	LinkText       string  `json:"link_text"`
	Selector       string  `json:"selector"`
}

// ExtractArticleLink asks the model to locate the full-article link for a
// preview item inside a listing page fragment. An empty URL with nil error
// means no confident link was found.
func (c *Client) ExtractArticleLink(ctx context.Context, htmlFragment, pageURL, title string) (string, float32, error) {
	if !c.Available() {
		return "", 0, ErrDisabled
	}

	raw, err := c.chat(ctx, chatRequest{
		Task:        "extract_link",
		User:        fmt.Sprintf(linkExtractionPrompt, title, pageURL, truncate(htmlFragment, linkPreviewChars)),
		MaxTokens:   linkExtractionMaxTokens,
		Temperature: dateExtractionTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return "", 0, err
	}

	payload, err := extractJSONObject(raw)
	if err != nil {
		return "", 0, err
	}

	var parsed rawLinkExtraction
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", 0, fmt.Errorf("decode link extraction response: %w", err)
	}

	confidence := clamp01(float32(parsed.Confidence))

	if !parsed.LinkFound || confidence < minExtractionConfidence {
		return "", confidence, nil
	}

	resolved, ok := resolveLink(parsed.FullArticleURL, pageURL)
	if !ok {
		return "", confidence, nil
	}

	c.logger.Debug().
		Str("page", pageURL).
		Str("link", resolved).
		Str("link_text", parsed.LinkText).
		Float32("confidence", confidence).
		Msg("article link extracted")

	return resolved, confidence, nil
}

type rawSelectorDiscovery struct {
	Selectors []string `json:"selectors"`
}

// DiscoverSelectors asks the model to propose content selectors for a domain
// whose configured strategies keep failing.
func (c *Client) DiscoverSelectors(ctx context.Context, htmlSample, domainName string) ([]string, error) {
	if !c.Available() {
		return nil, ErrDisabled
	}

	raw, err := c.chat(ctx, chatRequest{
		Task:        "discover_selectors",
		User:        fmt.Sprintf(selectorDiscoveryPrompt, domainName, truncate(htmlSample, linkPreviewChars)),
		MaxTokens:   selectorDiscoveryMaxTokens,
		Temperature: selectorDiscoveryTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var parsed rawSelectorDiscovery
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("decode selector discovery response: %w", err)
	}

	selectors := cleanStrings(parsed.Selectors)

	const maxSelectors = 3
	if len(selectors) > maxSelectors {
		selectors = selectors[:maxSelectors]
	}

	return selectors, nil
}

// resolveLink resolves candidate against base and accepts only http(s)
// results.
func resolveLink(candidate, base string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}

	ref, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}

	if resolved.Host == "" {
		return "", false
	}

	return resolved.String(), true
}

package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

// Browser renders JavaScript-heavy pages with headless Chrome. It is the
// most expensive strategy, so renders are serialized and the whole thing
// sits behind the BROWSER_ENABLED flag.
type Browser struct {
	timeout   time.Duration
	userAgent string
	logger    zerolog.Logger

	mu sync.Mutex
}

const browserSettleDelay = 1500 * time.Millisecond

func NewBrowser(timeout time.Duration, userAgent string, logger zerolog.Logger) *Browser {
	return &Browser{
		timeout:   timeout,
		userAgent: userAgent,
		logger:    logger.With().Str("component", "browser").Logger(),
	}
}

// Render navigates to the page, waits for the body plus a settle delay for
// late-loading content, and returns the rendered HTML.
func (b *Browser) Render(ctx context.Context, pageURL string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	start := time.Now()

	var html string

	err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(browserSettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		observability.BrowserRenders.WithLabelValues("error").Inc()

		return nil, fmt.Errorf("browser render: %w", err)
	}

	observability.BrowserRenders.WithLabelValues("ok").Inc()
	b.logger.Debug().Str("url", pageURL).Dur("took", time.Since(start)).Int("bytes", len(html)).Msg("page rendered")

	return []byte(html), nil
}
